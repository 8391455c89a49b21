package dxgraph

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliniscribe/dxgraph/internal/layout"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
	"github.com/cliniscribe/dxgraph/internal/store"
)

func setupTestFacade(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(&Config{
		URL: fmt.Sprintf("file:facade_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")),
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svc.Close()) })
	return svc
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

func nodeLabels(snap *reasoning.GraphSnapshot) []string {
	labels := make([]string, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		labels = append(labels, n.Label)
	}
	return labels
}

func TestFacadeCaseLifecycle(t *testing.T) {
	svc := setupTestFacade(t)
	ctx := context.Background()

	c, err := svc.CreateCase(ctx, "", "Chest pain workup", "chest pain")
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	rec, err := svc.GetCase(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chest pain workup", rec.Case.Title)

	_, err = svc.UpsertCase(ctx, "", c.ID, "Chest pain, day 2", "")
	require.NoError(t, err)
	rec, err = svc.GetCase(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chest pain, day 2", rec.Case.Title)
	assert.Equal(t, "chest pain", rec.Case.CurrentSymptom, "blank upsert field leaves the old value")

	cases, err := svc.ListCases(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	found, err := svc.SearchCases(ctx, "", "day 2", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, c.ID, found[0].ID)

	require.NoError(t, svc.DeleteCase(ctx, "", c.ID))
	_, err = svc.GetCase(ctx, "", c.ID)
	assert.ErrorIs(t, err, store.ErrCaseNotFound)
}

func TestFacadeReasoningFlow(t *testing.T) {
	svc := setupTestFacade(t)
	ctx := context.Background()

	c, err := svc.CreateCase(ctx, "", "Chest pain workup", "chest pain")
	require.NoError(t, err)

	snap, err := svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 6)
	assert.Contains(t, nodeLabels(snap), "GERD")

	snap, err = svc.SetExcluded(ctx, "", c.ID, "GERD", true)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 5)
	assert.NotContains(t, nodeLabels(snap), "GERD")

	snap, err = svc.SetPrioritized(ctx, "", c.ID, "Myocardial Infarction")
	require.NoError(t, err)
	var prioritized *reasoning.SymptomNode
	for i := range snap.Nodes {
		if snap.Nodes[i].Label == "Myocardial Infarction" {
			prioritized = &snap.Nodes[i]
		}
	}
	require.NotNil(t, prioritized)
	require.NotNil(t, prioritized.Confidence)
	assert.InDelta(t, 0.7+reasoning.PriorityBoost, *prioritized.Confidence, 1e-9)

	got, err := svc.Graph(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	report, err := svc.Completion(ctx, "", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Percent)
}

func TestFacadeView(t *testing.T) {
	svc := setupTestFacade(t)
	ctx := context.Background()

	c, err := svc.CreateCase(ctx, "", "Chest pain workup", "chest pain")
	require.NoError(t, err)
	_, err = svc.UpdateReasoning(ctx, "", c.ID, chestPainReasoning())
	require.NoError(t, err)

	frames := make(chan layout.Frame, 64)
	view, err := svc.NewView(ctx, "", c.ID, ViewOptions{
		FrameInterval: 5 * time.Millisecond,
		OnFrame: func(f layout.Frame) {
			select {
			case frames <- f:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer view.Close()

	select {
	case f := <-frames:
		assert.Len(t, f.Positions, 6)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
	}

	view.Wheel(-120, 0, 0)
	assert.InDelta(t, 1.1, view.Transform().K, 1e-9)
	view.Drag(4, -2)
	assert.InDelta(t, 4, view.Transform().X, 1e-9)

	// An edit through the service must reach the running engine.
	r := chestPainReasoning()
	r.Diagnoses = append(r.Diagnoses, store.DiagnosisRecord{Name: "Pulmonary Embolism", Confidence: 0.3})
	_, err = svc.UpdateReasoning(ctx, "", c.ID, r)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(view.Positions()) == 7
	}, 2*time.Second, 10*time.Millisecond)

	view.Freeze()
	assert.Equal(t, layout.StateStopped, view.State())
	// Gestures stay live after freeze.
	view.Wheel(-120, 0, 0)
	assert.InDelta(t, 1.1*1.1, view.Transform().K, 1e-9)

	view.Close()
	view.Close()
	assert.Nil(t, view.Positions())
	assert.EqualValues(t, 1, view.Transform().K)
}

func TestFacadeViewClosedOnCaseDelete(t *testing.T) {
	svc := setupTestFacade(t)
	ctx := context.Background()

	c, err := svc.CreateCase(ctx, "", "Chest pain workup", "chest pain")
	require.NoError(t, err)

	view, err := svc.NewView(ctx, "", c.ID, ViewOptions{FrameInterval: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCase(ctx, "", c.ID))
	assert.Eventually(t, func() bool {
		return view.State() == layout.StateStopped && view.Positions() == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFacadeViewMissingCase(t *testing.T) {
	svc := setupTestFacade(t)

	_, err := svc.NewView(context.Background(), "", "no-such-case", ViewOptions{})
	assert.ErrorIs(t, err, store.ErrCaseNotFound)
}
