// Package dxgraph provides a library-first API for embedding the diagnostic
// graph subsystem in another Go program, without any MCP or HTTP transport.
package dxgraph

import (
	"context"

	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/clinic"
	"github.com/cliniscribe/dxgraph/internal/export"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
	"github.com/cliniscribe/dxgraph/internal/store"
)

// Service wraps the case store and clinic service behind one handle.
type Service struct {
	svc *clinic.Service
}

// NewService constructs a Service with the provided config. Export providers
// are configured through the environment, same as the server binaries.
func NewService(cfg *Config) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := store.NewStore(cfg.toInternal(), logger)
	if err != nil {
		return nil, err
	}
	return &Service{svc: clinic.NewService(st, export.NewFromEnv(), logger)}, nil
}

// Close releases resources, including all live views.
func (s *Service) Close() error { return s.svc.Close() }

// CreateCase opens a new case.
func (s *Service) CreateCase(ctx context.Context, workspace, title, currentSymptom string) (*store.Case, error) {
	return s.svc.CreateCase(ctx, workspace, title, currentSymptom)
}

// UpsertCase creates the case when caseID is unknown, otherwise updates it.
func (s *Service) UpsertCase(ctx context.Context, workspace, caseID, title, currentSymptom string) (*store.Case, error) {
	return s.svc.UpsertCase(ctx, workspace, caseID, title, currentSymptom)
}

// GetCase fetches a case with its reasoning state.
func (s *Service) GetCase(ctx context.Context, workspace, caseID string) (*store.CaseRecord, error) {
	return s.svc.GetCase(ctx, workspace, caseID)
}

// ListCases returns cases ordered by recency.
func (s *Service) ListCases(ctx context.Context, workspace string, limit, offset int) ([]store.Case, error) {
	return s.svc.ListCases(ctx, workspace, limit, offset)
}

// SearchCases filters cases by title or symptom text.
func (s *Service) SearchCases(ctx context.Context, workspace, query string, limit int) ([]store.Case, error) {
	return s.svc.SearchCases(ctx, workspace, query, limit)
}

// DeleteCase removes a case and closes any views bound to it.
func (s *Service) DeleteCase(ctx context.Context, workspace, caseID string) error {
	return s.svc.DeleteCase(ctx, workspace, caseID)
}

// Reasoning / graph

// UpdateReasoning replaces the case's reasoning state and returns the derived graph.
func (s *Service) UpdateReasoning(ctx context.Context, workspace, caseID string, r store.Reasoning) (*reasoning.GraphSnapshot, error) {
	return s.svc.UpdateReasoning(ctx, workspace, caseID, r)
}

// SetExcluded marks a differential diagnosis excluded or reinstates it.
func (s *Service) SetExcluded(ctx context.Context, workspace, caseID, diagnosisName string, excluded bool) (*reasoning.GraphSnapshot, error) {
	return s.svc.SetExcluded(ctx, workspace, caseID, diagnosisName, excluded)
}

// SetPrioritized pins a diagnosis as the working hypothesis; empty clears the pin.
func (s *Service) SetPrioritized(ctx context.Context, workspace, caseID, diagnosisName string) (*reasoning.GraphSnapshot, error) {
	return s.svc.SetPrioritized(ctx, workspace, caseID, diagnosisName)
}

// Graph returns the current graph snapshot for a case.
func (s *Service) Graph(ctx context.Context, workspace, caseID string) (*reasoning.GraphSnapshot, error) {
	return s.svc.Graph(ctx, workspace, caseID)
}

// Completion reports per-section documentation progress.
func (s *Service) Completion(ctx context.Context, workspace, caseID string) (clinic.CompletionReport, error) {
	return s.svc.Completion(ctx, workspace, caseID)
}

// ExportReport sends the case report through the configured export provider.
func (s *Service) ExportReport(ctx context.Context, workspace, caseID string) (export.Receipt, error) {
	return s.svc.ExportReport(ctx, workspace, caseID)
}

// ExporterName reports the configured export provider, or "" when disabled.
func (s *Service) ExporterName() string { return s.svc.ExporterName() }

// Ping verifies store connectivity for a workspace.
func (s *Service) Ping(ctx context.Context, workspace string) error {
	return s.svc.Ping(ctx, workspace)
}
