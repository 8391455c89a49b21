package clinic

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/export"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
	"github.com/cliniscribe/dxgraph/internal/store"
)

func setupTestService(t *testing.T, exporter export.Provider) (*Service, func()) {
	cfg := store.NewConfig()
	cfg.URL = fmt.Sprintf("file:clinic_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	st, err := store.NewStore(cfg, nil)
	require.NoError(t, err)

	svc := NewService(st, exporter, zap.NewNop())
	cleanup := func() {
		assert.NoError(t, svc.Close())
	}
	return svc, cleanup
}

func chestPainReasoning() store.Reasoning {
	return store.Reasoning{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"shortness of breath", "sweating"},
		Diagnoses: []store.DiagnosisRecord{
			{
				Name:               "Myocardial Infarction",
				Confidence:         0.7,
				Category:           "cardiovascular",
				SupportingSymptoms: []string{"sweating"},
				RedFlags:           []string{"crushing pain"},
			},
			{
				Name:               "GERD",
				Confidence:         0.4,
				SupportingSymptoms: []string{"chest pain"},
			},
		},
		RedFlags: []string{"crushing pain"},
	}
}

func TestCaseLifecycle(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "Chest pain workup", "chest pain")
	require.NoError(t, err)

	rec, err := svc.GetCase(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chest pain workup", rec.Title)

	cases, err := svc.ListCases(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	require.NoError(t, svc.DeleteCase(ctx, "", c.ID))
	_, err = svc.GetCase(ctx, "", c.ID)
	assert.ErrorIs(t, err, store.ErrCaseNotFound)
}

func TestGraphDerivedFromRecord(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "")
	require.NoError(t, err)

	snap, err := svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)

	// current + 2 associated + 2 diagnoses + 1 red flag
	assert.Len(t, snap.Nodes, 6)
	byID := make(map[string]reasoning.SymptomNode)
	for _, n := range snap.Nodes {
		byID[n.ID] = n
	}
	assert.Equal(t, "chest pain", byID["current"].Label)
	assert.Equal(t, reasoning.KindDifferentialDiagnosis, byID["diagnosis_0"].Kind)
	assert.Equal(t, "Myocardial Infarction", byID["diagnosis_0"].Label)
	assert.Equal(t, reasoning.KindRedFlag, byID["redflag_0"].Kind)
}

func TestGraphMemoizedAcrossReads(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "")
	require.NoError(t, err)
	_, err = svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)

	first, err := svc.Graph(ctx, "", c.ID)
	require.NoError(t, err)
	second, err := svc.Graph(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A mutation invalidates the memo.
	_, err = svc.SetPrioritized(ctx, "", c.ID, "GERD")
	require.NoError(t, err)
	third, err := svc.Graph(ctx, "", c.ID)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestReasoningInputAssembly(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "")
	require.NoError(t, err)
	_, err = svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)
	_, err = svc.SetExcluded(ctx, "", c.ID, "GERD", true)
	require.NoError(t, err)
	_, err = svc.SetPrioritized(ctx, "", c.ID, "Myocardial Infarction")
	require.NoError(t, err)

	in, err := svc.Reasoning(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "chest pain", in.CurrentSymptom)
	assert.Equal(t, []string{"shortness of breath", "sweating"}, in.AssociatedSymptoms)
	assert.Equal(t, "Myocardial Infarction", in.Prioritized)
	_, excluded := in.Excluded["GERD"]
	assert.True(t, excluded)
	require.Len(t, in.Diagnoses, 2)
	assert.Equal(t, []string{"sweating"}, in.Diagnoses[0].SupportingSymptoms)
}

func TestMutationsPublishToSubscribers(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "")
	require.NoError(t, err)

	sub := svc.Subscribe("", c.ID)
	defer svc.Unsubscribe(sub)

	snap, err := svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)

	select {
	case got := <-sub.C():
		assert.Same(t, snap, got)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published after UpdateReasoning")
	}

	// Excluding a diagnosis removes its node from the published snapshot.
	snap, err = svc.SetExcluded(ctx, "", c.ID, "GERD", true)
	require.NoError(t, err)
	select {
	case got := <-sub.C():
		assert.Same(t, snap, got)
		for _, n := range got.Nodes {
			assert.NotEqual(t, "GERD", n.Label)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot published after SetExcluded")
	}
}

func TestDeleteClosesSubscriptions(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "")
	require.NoError(t, err)

	sub := svc.Subscribe("", c.ID)
	require.NoError(t, svc.DeleteCase(ctx, "", c.ID))

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "channel should be closed after case deletion")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after case deletion")
	}

	// Unsubscribing an already-closed subscription is harmless.
	svc.Unsubscribe(sub)
}

func TestCompletion(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "chest pain")
	require.NoError(t, err)

	report, err := svc.Completion(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Percent)

	_, err = svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)
	report, err = svc.Completion(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, report.Percent)

	_, err = svc.SetPrioritized(ctx, "", c.ID, "Myocardial Infarction")
	require.NoError(t, err)
	report, err = svc.Completion(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Percent)
	assert.Len(t, report.Sections, 5)
}

type fakeExporter struct {
	receipt export.Receipt
	err     error
	got     export.Report
}

func (f *fakeExporter) Name() string { return "fake" }

func (f *fakeExporter) Export(_ context.Context, r export.Report) (export.Receipt, error) {
	f.got = r
	return f.receipt, f.err
}

func TestExportReport(t *testing.T) {
	fake := &fakeExporter{receipt: export.Receipt{Provider: "fake", Reference: "doc-9"}}
	svc, cleanup := setupTestService(t, fake)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "Chest pain workup", "")
	require.NoError(t, err)
	_, err = svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)

	receipt, err := svc.ExportReport(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc-9", receipt.Reference)

	assert.Equal(t, c.ID, fake.got.CaseID)
	assert.Equal(t, store.DefaultWorkspace, fake.got.Workspace)
	assert.Contains(t, fake.got.Body, "Myocardial Infarction")
	assert.Contains(t, fake.got.Body, "Current symptom: chest pain")
}

func TestExportReportDisabled(t *testing.T) {
	svc, cleanup := setupTestService(t, nil)
	defer cleanup()

	ctx := context.Background()
	c, err := svc.CreateCase(ctx, "", "workup", "")
	require.NoError(t, err)

	_, err = svc.ExportReport(ctx, "", c.ID)
	assert.ErrorIs(t, err, ErrExportDisabled)
	assert.Empty(t, svc.ExporterName())
}

func TestRenderReport(t *testing.T) {
	rec := &store.CaseRecord{
		Case: store.Case{
			ID:             "case-1",
			Title:          "Chest pain workup",
			CurrentSymptom: "chest pain",
			Prioritized:    "Myocardial Infarction",
		},
		AssociatedSymptoms: []string{"sweating"},
		Diagnoses: []store.DiagnosisRecord{
			{Name: "Myocardial Infarction", Confidence: 0.9, Category: "cardiovascular"},
			{Name: "GERD", Confidence: 0.3, Excluded: true},
		},
		RedFlags: []string{"crushing pain"},
	}

	text := RenderReport(rec)
	assert.Contains(t, text, "Clinical Reasoning Report: Chest pain workup")
	assert.Contains(t, text, "1. Myocardial Infarction (confidence 0.90, cardiovascular) [prioritized]")
	assert.Contains(t, text, "2. GERD (confidence 0.30) [excluded]")
	assert.Contains(t, text, "- crushing pain")

	empty := RenderReport(&store.CaseRecord{Case: store.Case{ID: "case-2"}})
	assert.Contains(t, empty, "Untitled case")
	assert.Contains(t, empty, "none documented")
}
