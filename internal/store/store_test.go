package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkspace = "test-workspace"

func setupTestStore(t *testing.T) (*Store, func()) {
	config := NewConfig()
	// An in-memory database per test. `cache=shared` keeps the memory
	// database alive across the pool's connections; the test name keeps
	// tests from seeing each other's rows.
	config.URL = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	s, err := NewStore(config, nil)
	require.NoError(t, err)

	cleanup := func() {
		err := s.Close()
		assert.NoError(t, err)
	}

	return s, cleanup
}

func sampleReasoning() Reasoning {
	return Reasoning{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"shortness of breath", "sweating", "nausea"},
		Diagnoses: []DiagnosisRecord{
			{
				Name:               "Myocardial Infarction",
				Confidence:         0.85,
				Category:           "cardiovascular",
				SupportingSymptoms: []string{"chest pain", "sweating"},
				RedFlags:           []string{"crushing chest pain"},
			},
			{
				Name:               "GERD",
				Confidence:         0.4,
				Category:           "gastrointestinal",
				SupportingSymptoms: []string{"chest pain"},
				ExcludingSymptoms:  []string{"sweating"},
			},
		},
		RedFlags: []string{"crushing chest pain", "radiating to left arm"},
	}
}

func TestCreateAndGetCase(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "Chest pain workup", "chest pain")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Chest pain workup", created.Title)
	assert.Equal(t, "chest pain", created.CurrentSymptom)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, rec.ID)
	assert.Equal(t, "Chest pain workup", rec.Title)
	assert.Equal(t, "chest pain", rec.CurrentSymptom)
	assert.Empty(t, rec.Prioritized)
	assert.True(t, created.CreatedAt.Equal(rec.CreatedAt))
	assert.Empty(t, rec.AssociatedSymptoms)
	assert.Empty(t, rec.Diagnoses)
	assert.Empty(t, rec.RedFlags)
}

func TestUpsertCase(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.UpsertCase(ctx, testWorkspace, "", "Chest pain workup", "chest pain")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	// Renaming leaves the current symptom alone.
	updated, err := s.UpsertCase(ctx, testWorkspace, created.ID, "Acute chest pain", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Acute chest pain", updated.Title)
	assert.Equal(t, "chest pain", updated.CurrentSymptom)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	// A fresh UUID inserts a new row.
	id := uuid.NewString()
	inserted, err := s.UpsertCase(ctx, testWorkspace, id, "New case", "")
	require.NoError(t, err)
	assert.Equal(t, id, inserted.ID)

	_, err = s.UpsertCase(ctx, testWorkspace, "not-a-uuid", "x", "")
	assert.ErrorContains(t, err, "UUID")
}

func TestGetCaseNotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := s.GetCase(context.Background(), testWorkspace, "no-such-case")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestReplaceReasoningRoundTrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "Chest pain workup", "")
	require.NoError(t, err)

	err = s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning())
	require.NoError(t, err)

	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "chest pain", rec.CurrentSymptom)
	assert.Equal(t, []string{"shortness of breath", "sweating", "nausea"}, rec.AssociatedSymptoms)
	assert.Equal(t, []string{"crushing chest pain", "radiating to left arm"}, rec.RedFlags)

	require.Len(t, rec.Diagnoses, 2)
	mi := rec.Diagnoses[0]
	assert.Equal(t, "Myocardial Infarction", mi.Name)
	assert.InDelta(t, 0.85, mi.Confidence, 1e-9)
	assert.Equal(t, "cardiovascular", mi.Category)
	assert.False(t, mi.Excluded)
	assert.Equal(t, []string{"chest pain", "sweating"}, mi.SupportingSymptoms)
	assert.Empty(t, mi.ExcludingSymptoms)
	assert.Equal(t, []string{"crushing chest pain"}, mi.RedFlags)

	gerd := rec.Diagnoses[1]
	assert.Equal(t, "GERD", gerd.Name)
	assert.Equal(t, []string{"sweating"}, gerd.ExcludingSymptoms)
}

func TestReplaceReasoningOverwrites(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)

	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning()))

	replacement := Reasoning{
		CurrentSymptom: "headache",
		Diagnoses: []DiagnosisRecord{
			{Name: "Migraine", Confidence: 0.6},
		},
	}
	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, replacement))

	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "headache", rec.CurrentSymptom)
	assert.Empty(t, rec.AssociatedSymptoms)
	assert.Empty(t, rec.RedFlags)
	require.Len(t, rec.Diagnoses, 1)
	assert.Equal(t, "Migraine", rec.Diagnoses[0].Name)
	assert.Empty(t, rec.Diagnoses[0].SupportingSymptoms)
}

func TestReplaceReasoningClearsStalePriority(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)

	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning()))
	require.NoError(t, s.SetPrioritized(ctx, testWorkspace, created.ID, "GERD"))

	// Replacing with a differential that still contains GERD keeps it.
	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning()))
	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "GERD", rec.Prioritized)

	// Replacing with a differential that drops GERD clears it.
	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, Reasoning{
		CurrentSymptom: "chest pain",
		Diagnoses:      []DiagnosisRecord{{Name: "Myocardial Infarction", Confidence: 0.9}},
	}))
	rec, err = s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Prioritized)
}

func TestReplaceReasoningValidation(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)

	err = s.ReplaceReasoning(ctx, testWorkspace, created.ID, Reasoning{
		Diagnoses: []DiagnosisRecord{{Name: "   "}},
	})
	assert.ErrorIs(t, err, ErrInvalidReasoning)
	assert.ErrorContains(t, err, "non-empty")

	err = s.ReplaceReasoning(ctx, testWorkspace, created.ID, Reasoning{
		Diagnoses: []DiagnosisRecord{{Name: "GERD"}, {Name: "GERD"}},
	})
	assert.ErrorIs(t, err, ErrInvalidReasoning)
	assert.ErrorContains(t, err, "duplicate diagnosis")

	err = s.ReplaceReasoning(ctx, testWorkspace, "no-such-case", sampleReasoning())
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestReplaceReasoningClampsConfidence(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)

	err = s.ReplaceReasoning(ctx, testWorkspace, created.ID, Reasoning{
		Diagnoses: []DiagnosisRecord{
			{Name: "TooHigh", Confidence: 1.7},
			{Name: "TooLow", Confidence: -0.2},
			{Name: "NotANumber", Confidence: math.NaN()},
		},
	})
	require.NoError(t, err)

	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	require.Len(t, rec.Diagnoses, 3)
	assert.Equal(t, 1.0, rec.Diagnoses[0].Confidence)
	assert.Equal(t, 0.0, rec.Diagnoses[1].Confidence)
	assert.Equal(t, 0.0, rec.Diagnoses[2].Confidence)
}

func TestSetExcluded(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning()))

	require.NoError(t, s.SetExcluded(ctx, testWorkspace, created.ID, "GERD", true))
	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.False(t, rec.Diagnoses[0].Excluded)
	assert.True(t, rec.Diagnoses[1].Excluded)

	require.NoError(t, s.SetExcluded(ctx, testWorkspace, created.ID, "GERD", false))
	rec, err = s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.False(t, rec.Diagnoses[1].Excluded)

	err = s.SetExcluded(ctx, testWorkspace, created.ID, "Unknown", true)
	assert.ErrorIs(t, err, ErrDiagnosisNotFound)

	err = s.SetExcluded(ctx, testWorkspace, "no-such-case", "GERD", true)
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestSetPrioritized(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning()))

	require.NoError(t, s.SetPrioritized(ctx, testWorkspace, created.ID, "Myocardial Infarction"))
	rec, err := s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Myocardial Infarction", rec.Prioritized)

	// Empty name clears the priority.
	require.NoError(t, s.SetPrioritized(ctx, testWorkspace, created.ID, ""))
	rec, err = s.GetCase(ctx, testWorkspace, created.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Prioritized)

	err = s.SetPrioritized(ctx, testWorkspace, created.ID, "Unknown")
	assert.ErrorIs(t, err, ErrDiagnosisNotFound)

	err = s.SetPrioritized(ctx, testWorkspace, "no-such-case", "")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestListCases(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		c, err := s.CreateCase(ctx, testWorkspace, fmt.Sprintf("case %d", i), "")
		require.NoError(t, err)
		ids = append(ids, c.ID)
		// Timestamps have millisecond precision; keep the ordering unambiguous.
		time.Sleep(2 * time.Millisecond)
	}

	cases, err := s.ListCases(ctx, testWorkspace, 0, 0)
	require.NoError(t, err)
	require.Len(t, cases, 3)
	assert.Equal(t, ids[2], cases[0].ID)
	assert.Equal(t, ids[0], cases[2].ID)

	// Touching a case moves it to the front.
	require.NoError(t, s.SetPrioritized(ctx, testWorkspace, ids[0], ""))
	cases, err = s.ListCases(ctx, testWorkspace, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, ids[0], cases[0].ID)

	cases, err = s.ListCases(ctx, testWorkspace, 2, 0)
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	cases, err = s.ListCases(ctx, testWorkspace, 2, 2)
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func TestSearchCases(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	_, err := s.CreateCase(ctx, testWorkspace, "Chest pain workup", "chest pain")
	require.NoError(t, err)
	_, err = s.CreateCase(ctx, testWorkspace, "Morning headache", "headache")
	require.NoError(t, err)

	results, err := s.SearchCases(ctx, testWorkspace, "chest", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Chest pain workup", results[0].Title)

	// The current symptom column is searched too.
	results, err = s.SearchCases(ctx, testWorkspace, "headache", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = s.SearchCases(ctx, testWorkspace, "  ", 10)
	assert.Error(t, err)
}

func TestDeleteCase(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := s.CreateCase(ctx, testWorkspace, "workup", "")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceReasoning(ctx, testWorkspace, created.ID, sampleReasoning()))

	require.NoError(t, s.DeleteCase(ctx, testWorkspace, created.ID))

	_, err = s.GetCase(ctx, testWorkspace, created.ID)
	assert.ErrorIs(t, err, ErrCaseNotFound)

	err = s.DeleteCase(ctx, testWorkspace, created.ID)
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestMultiWorkspace(t *testing.T) {
	dir, err := os.MkdirTemp("", "dxgraph-store-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	config := &Config{
		WorkspacesDir:  dir,
		MultiWorkspace: true,
	}
	s, err := NewStore(config, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	c1, err := s.CreateCase(ctx, "clinic-a", "case a", "")
	require.NoError(t, err)
	c2, err := s.CreateCase(ctx, "clinic-b", "case b", "")
	require.NoError(t, err)

	got, err := s.GetCase(ctx, "clinic-a", c1.ID)
	require.NoError(t, err)
	assert.Equal(t, "case a", got.Title)

	// Cases do not leak across workspaces.
	_, err = s.GetCase(ctx, "clinic-a", c2.ID)
	assert.ErrorIs(t, err, ErrCaseNotFound)
	_, err = s.GetCase(ctx, "clinic-b", c1.ID)
	assert.ErrorIs(t, err, ErrCaseNotFound)

	inUse, idle := s.PoolStats()
	assert.GreaterOrEqual(t, inUse+idle, 0)
}

func TestPing(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	require.NoError(t, s.Ping(context.Background(), testWorkspace))
}
