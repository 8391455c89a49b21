// Package clinic orchestrates case records, derived reasoning graphs and
// live view fan-out. Every surface (REST, WebSocket, MCP, the embedding
// facade) goes through one Service so that a mutation made on any of them
// reaches the subscribers of the affected case.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/export"
	"github.com/cliniscribe/dxgraph/internal/metrics"
	"github.com/cliniscribe/dxgraph/internal/reasoning"
	"github.com/cliniscribe/dxgraph/internal/store"
)

// ErrExportDisabled reports that no export provider is configured.
var ErrExportDisabled = errors.New("export disabled: no provider configured")

// Service is the case orchestration layer. It owns one snapshot cache per
// case and a fan-out hub feeding live view sessions.
type Service struct {
	store    *store.Store
	exporter export.Provider
	logger   *zap.Logger
	hub      *hub

	mu     sync.Mutex
	caches map[string]*reasoning.Cache
}

// NewService wires a Service. exporter may be nil, which disables report
// export.
func NewService(st *store.Store, exporter export.Provider, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    st,
		exporter: exporter,
		logger:   logger,
		hub:      newHub(logger),
		caches:   make(map[string]*reasoning.Cache),
	}
}

func normalizeWorkspace(workspace string) string {
	if workspace == "" {
		return store.DefaultWorkspace
	}
	return workspace
}

func caseKey(workspace, caseID string) string {
	return workspace + "/" + caseID
}

// CreateCase opens a new, empty case.
func (s *Service) CreateCase(ctx context.Context, workspace, title, currentSymptom string) (*store.Case, error) {
	workspace = normalizeWorkspace(workspace)
	c, err := s.store.CreateCase(ctx, workspace, title, currentSymptom)
	if err != nil {
		return nil, err
	}
	s.logger.Info("case created",
		zap.String("workspace", workspace),
		zap.String("case", c.ID),
		zap.String("title", c.Title))
	return c, nil
}

// UpsertCase creates a case when caseID is empty and updates its metadata
// otherwise. A change to the current symptom feeds the graph, so subscribers
// get a fresh snapshot.
func (s *Service) UpsertCase(ctx context.Context, workspace, caseID, title, currentSymptom string) (*store.Case, error) {
	workspace = normalizeWorkspace(workspace)
	c, err := s.store.UpsertCase(ctx, workspace, caseID, title, currentSymptom)
	if err != nil {
		return nil, err
	}
	if _, err := s.refreshGraph(ctx, workspace, c.ID); err != nil {
		return nil, err
	}
	s.logger.Info("case upserted",
		zap.String("workspace", workspace),
		zap.String("case", c.ID),
		zap.String("title", c.Title))
	return c, nil
}

// GetCase loads a full case record.
func (s *Service) GetCase(ctx context.Context, workspace, caseID string) (*store.CaseRecord, error) {
	return s.store.GetCase(ctx, normalizeWorkspace(workspace), caseID)
}

// ListCases returns case rows, most recently updated first.
func (s *Service) ListCases(ctx context.Context, workspace string, limit, offset int) ([]store.Case, error) {
	return s.store.ListCases(ctx, normalizeWorkspace(workspace), limit, offset)
}

// SearchCases matches case titles and current symptoms against query.
func (s *Service) SearchCases(ctx context.Context, workspace, query string, limit int) ([]store.Case, error) {
	return s.store.SearchCases(ctx, normalizeWorkspace(workspace), query, limit)
}

// DeleteCase removes a case and ends every live view on it.
func (s *Service) DeleteCase(ctx context.Context, workspace, caseID string) error {
	workspace = normalizeWorkspace(workspace)
	if err := s.store.DeleteCase(ctx, workspace, caseID); err != nil {
		return err
	}

	key := caseKey(workspace, caseID)
	s.mu.Lock()
	delete(s.caches, key)
	s.mu.Unlock()
	s.hub.drop(key)

	s.logger.Info("case deleted", zap.String("workspace", workspace), zap.String("case", caseID))
	return nil
}

// Reasoning assembles the graph-builder input from the stored record: the
// exclusion set comes from the per-diagnosis flags, the prioritized name from
// the case row.
func (s *Service) Reasoning(ctx context.Context, workspace, caseID string) (reasoning.Input, error) {
	rec, err := s.store.GetCase(ctx, normalizeWorkspace(workspace), caseID)
	if err != nil {
		return reasoning.Input{}, err
	}
	return inputFromRecord(rec), nil
}

// Graph returns the current snapshot for a case, memoized per case so that
// repeated reads of an unchanged record reuse the prior value.
func (s *Service) Graph(ctx context.Context, workspace, caseID string) (*reasoning.GraphSnapshot, error) {
	workspace = normalizeWorkspace(workspace)
	rec, err := s.store.GetCase(ctx, workspace, caseID)
	if err != nil {
		return nil, err
	}
	return s.cacheFor(workspace, caseID).Build(inputFromRecord(rec)), nil
}

// UpdateReasoning replaces the reasoning sections of a case, rebuilds its
// snapshot and publishes it to subscribers.
func (s *Service) UpdateReasoning(ctx context.Context, workspace, caseID string, r store.Reasoning) (*reasoning.GraphSnapshot, error) {
	workspace = normalizeWorkspace(workspace)
	if err := s.store.ReplaceReasoning(ctx, workspace, caseID, r); err != nil {
		return nil, err
	}
	return s.refreshGraph(ctx, workspace, caseID)
}

// SetExcluded toggles a diagnosis's exclusion flag and republishes.
func (s *Service) SetExcluded(ctx context.Context, workspace, caseID, diagnosisName string, excluded bool) (*reasoning.GraphSnapshot, error) {
	workspace = normalizeWorkspace(workspace)
	if err := s.store.SetExcluded(ctx, workspace, caseID, diagnosisName, excluded); err != nil {
		return nil, err
	}
	return s.refreshGraph(ctx, workspace, caseID)
}

// SetPrioritized marks a diagnosis as the working priority (empty clears)
// and republishes.
func (s *Service) SetPrioritized(ctx context.Context, workspace, caseID, diagnosisName string) (*reasoning.GraphSnapshot, error) {
	workspace = normalizeWorkspace(workspace)
	if err := s.store.SetPrioritized(ctx, workspace, caseID, diagnosisName); err != nil {
		return nil, err
	}
	return s.refreshGraph(ctx, workspace, caseID)
}

// Completion reports how much of the case form is filled in.
func (s *Service) Completion(ctx context.Context, workspace, caseID string) (CompletionReport, error) {
	rec, err := s.store.GetCase(ctx, normalizeWorkspace(workspace), caseID)
	if err != nil {
		return CompletionReport{}, err
	}
	return completionFor(rec), nil
}

// ExportReport renders the case narrative and hands it to the configured
// provider.
func (s *Service) ExportReport(ctx context.Context, workspace, caseID string) (export.Receipt, error) {
	if s.exporter == nil {
		return export.Receipt{}, ErrExportDisabled
	}
	workspace = normalizeWorkspace(workspace)

	rec, err := s.store.GetCase(ctx, workspace, caseID)
	if err != nil {
		return export.Receipt{}, err
	}

	report := export.Report{
		CaseID:    rec.ID,
		Workspace: workspace,
		Title:     rec.Title,
		Body:      RenderReport(rec),
		CreatedAt: time.Now().UTC(),
	}

	receipt, err := s.exporter.Export(ctx, report)
	metrics.Default().IncExportTotal(s.exporter.Name(), err == nil)
	if err != nil {
		s.logger.Warn("report export failed",
			zap.String("case", caseID),
			zap.String("provider", s.exporter.Name()),
			zap.Error(err))
		return export.Receipt{}, fmt.Errorf("export via %s failed: %w", s.exporter.Name(), err)
	}

	s.logger.Info("report exported",
		zap.String("case", caseID),
		zap.String("provider", receipt.Provider),
		zap.String("reference", receipt.Reference))
	return receipt, nil
}

// ExporterName names the configured export provider, or returns the empty
// string when export is disabled.
func (s *Service) ExporterName() string {
	if s.exporter == nil {
		return ""
	}
	return s.exporter.Name()
}

// Subscribe attaches a live listener to a case. The returned subscription
// receives a snapshot after every mutation until Unsubscribe or case
// deletion.
func (s *Service) Subscribe(workspace, caseID string) *Subscription {
	return s.hub.subscribe(caseKey(normalizeWorkspace(workspace), caseID))
}

// Unsubscribe detaches a listener and closes its channel.
func (s *Service) Unsubscribe(sub *Subscription) {
	s.hub.unsubscribe(sub)
}

// Ping verifies store connectivity for a workspace.
func (s *Service) Ping(ctx context.Context, workspace string) error {
	return s.store.Ping(ctx, normalizeWorkspace(workspace))
}

// PoolStats aggregates store connection pool usage.
func (s *Service) PoolStats() (inUse, idle int) {
	return s.store.PoolStats()
}

// StoreConfig exposes the store configuration for health reporting.
func (s *Service) StoreConfig() *store.Config {
	return s.store.Config()
}

// Close ends all live subscriptions and closes the store.
func (s *Service) Close() error {
	s.hub.closeAll()
	return s.store.Close()
}

func (s *Service) refreshGraph(ctx context.Context, workspace, caseID string) (*reasoning.GraphSnapshot, error) {
	rec, err := s.store.GetCase(ctx, workspace, caseID)
	if err != nil {
		return nil, err
	}
	snap := s.cacheFor(workspace, caseID).Build(inputFromRecord(rec))

	key := caseKey(workspace, caseID)
	s.hub.publish(key, snap)
	s.logger.Debug("graph republished",
		zap.String("workspace", workspace),
		zap.String("case", caseID),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("links", len(snap.Links)),
		zap.Int("subscribers", s.hub.subscriberCount(key)))
	return snap, nil
}

func (s *Service) cacheFor(workspace, caseID string) *reasoning.Cache {
	key := caseKey(workspace, caseID)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[key]
	if !ok {
		c = reasoning.NewCache()
		s.caches[key] = c
	}
	return c
}

func inputFromRecord(rec *store.CaseRecord) reasoning.Input {
	in := reasoning.Input{
		CurrentSymptom:     rec.CurrentSymptom,
		AssociatedSymptoms: rec.AssociatedSymptoms,
		RedFlags:           rec.RedFlags,
		Prioritized:        rec.Prioritized,
		Excluded:           make(map[string]struct{}),
		Diagnoses:          make([]reasoning.Diagnosis, len(rec.Diagnoses)),
	}
	for i, d := range rec.Diagnoses {
		in.Diagnoses[i] = reasoning.Diagnosis{
			Name:               d.Name,
			Confidence:         d.Confidence,
			Category:           d.Category,
			Description:        d.Description,
			SupportingSymptoms: d.SupportingSymptoms,
			ExcludingSymptoms:  d.ExcludingSymptoms,
			RedFlags:           d.RedFlags,
		}
		if d.Excluded {
			in.Excluded[d.Name] = struct{}{}
		}
	}
	return in
}
