package store

import (
	"context"
	"fmt"
	"strconv"
	"testing"
)

const benchWorkspace = "default"

func setupBenchStore(b *testing.B, n int) (*Store, []string, func()) {
	b.Helper()
	cfg := NewConfig()
	cfg.URL = "file:benchstore?mode=memory&cache=shared"
	s, err := NewStore(cfg, nil)
	if err != nil {
		b.Fatalf("NewStore: %v", err)
	}

	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		c, err := s.CreateCase(ctx, benchWorkspace, "bench case "+strconv.Itoa(i), "chest pain")
		if err != nil {
			b.Fatalf("CreateCase: %v", err)
		}
		r := sampleBenchReasoning(i)
		if err := s.ReplaceReasoning(ctx, benchWorkspace, c.ID, r); err != nil {
			b.Fatalf("ReplaceReasoning: %v", err)
		}
		ids = append(ids, c.ID)
	}

	cleanup := func() { _ = s.Close() }
	return s, ids, cleanup
}

func sampleBenchReasoning(i int) Reasoning {
	return Reasoning{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"dyspnea", "sweating", "nausea", "dizziness"},
		Diagnoses: []DiagnosisRecord{
			{
				Name:               fmt.Sprintf("Diagnosis A %d", i),
				Confidence:         0.8,
				SupportingSymptoms: []string{"chest pain", "sweating"},
				RedFlags:           []string{"crushing chest pain"},
			},
			{
				Name:               fmt.Sprintf("Diagnosis B %d", i),
				Confidence:         0.4,
				SupportingSymptoms: []string{"chest pain"},
				ExcludingSymptoms:  []string{"sweating"},
			},
			{
				Name:       fmt.Sprintf("Diagnosis C %d", i),
				Confidence: 0.2,
			},
		},
		RedFlags: []string{"crushing chest pain", "syncope"},
	}
}

func BenchmarkGetCase(b *testing.B) {
	s, ids, cleanup := setupBenchStore(b, 100)
	defer cleanup()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.GetCase(ctx, benchWorkspace, ids[i%len(ids)]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReplaceReasoning(b *testing.B) {
	s, ids, cleanup := setupBenchStore(b, 10)
	defer cleanup()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.ReplaceReasoning(ctx, benchWorkspace, ids[i%len(ids)], sampleBenchReasoning(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkListCases(b *testing.B) {
	s, _, cleanup := setupBenchStore(b, 200)
	defer cleanup()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.ListCases(ctx, benchWorkspace, 20, 0); err != nil {
			b.Fatal(err)
		}
	}
}
