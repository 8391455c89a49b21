// Package store persists clinical case records — the form state the reasoning
// graph is derived from — in libSQL, one database per workspace. The derived
// graph itself is never stored: snapshots, positions and view transforms are
// runtime-only values owned by other packages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/metrics"
)

// DefaultWorkspace is used when a caller does not name a workspace.
const DefaultWorkspace = "default"

var (
	// ErrCaseNotFound reports a case ID with no row in the workspace.
	ErrCaseNotFound = errors.New("case not found")
	// ErrDiagnosisNotFound reports a diagnosis name not present on the case.
	ErrDiagnosisNotFound = errors.New("diagnosis not found")
	// ErrInvalidReasoning reports a reasoning payload rejected by validation.
	ErrInvalidReasoning = errors.New("invalid reasoning")
)

// timeLayout is fixed-width UTC with millisecond precision, so the stored
// strings sort lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Case is the top-level case row.
type Case struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CurrentSymptom string    `json:"currentSymptom"`
	Prioritized    string    `json:"prioritizedDiagnosis,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DiagnosisRecord is one differential-diagnosis row with its ordered evidence
// lists and the per-case exclusion flag.
type DiagnosisRecord struct {
	Name               string   `json:"name"`
	Confidence         float64  `json:"confidence"`
	Category           string   `json:"category,omitempty"`
	Description        string   `json:"description,omitempty"`
	Excluded           bool     `json:"excluded,omitempty"`
	SupportingSymptoms []string `json:"supportingSymptoms,omitempty"`
	ExcludingSymptoms  []string `json:"excludingSymptoms,omitempty"`
	RedFlags           []string `json:"redFlags,omitempty"`
}

// CaseRecord is a fully loaded case: the row plus the ordered reasoning
// sections.
type CaseRecord struct {
	Case
	AssociatedSymptoms []string          `json:"associatedSymptoms"`
	Diagnoses          []DiagnosisRecord `json:"diagnoses"`
	RedFlags           []string          `json:"redFlags"`
}

// Store manages one libSQL handle per workspace.
type Store struct {
	config *Config
	logger *zap.Logger

	mu  sync.RWMutex
	dbs map[string]*sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]map[string]*sql.Stmt
}

// NewStore creates a store. Outside multi-workspace mode the default
// workspace database is opened and migrated immediately so configuration
// errors surface at startup rather than on first request.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		config:    config,
		logger:    logger,
		dbs:       make(map[string]*sql.DB),
		stmtCache: make(map[string]map[string]*sql.Stmt),
	}

	if !config.MultiWorkspace {
		if _, err := s.getDB(DefaultWorkspace); err != nil {
			return nil, fmt.Errorf("failed to initialize default workspace database: %w", err)
		}
	}

	return s, nil
}

// getDB retrieves the database for a workspace, opening and migrating it on
// first use.
func (s *Store) getDB(workspace string) (*sql.DB, error) {
	s.mu.RLock()
	db, ok := s.dbs[workspace]
	s.mu.RUnlock()
	if ok {
		return db, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine may have opened it while we waited.
	if db, ok = s.dbs[workspace]; ok {
		return db, nil
	}

	var dbURL string
	if s.config.MultiWorkspace {
		if workspace == "" {
			return nil, fmt.Errorf("workspace name cannot be empty in multi-workspace mode")
		}
		dbPath := filepath.Join(s.config.WorkspacesDir, workspace, "dxgraph.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory for %s: %w", workspace, err)
		}
		dbURL = fmt.Sprintf("file:%s", dbPath)
	} else {
		dbURL = s.config.URL
	}

	var newDB *sql.DB
	var err error
	if strings.HasPrefix(dbURL, "file:") {
		newDB, err = sql.Open("libsql", dbURL)
	} else {
		authURL := dbURL
		if s.config.AuthToken != "" {
			if u, perr := url.Parse(dbURL); perr == nil {
				q := u.Query()
				q.Set("authToken", s.config.AuthToken)
				u.RawQuery = q.Encode()
				authURL = u.String()
			} else if strings.Contains(dbURL, "?") {
				authURL = dbURL + "&authToken=" + url.QueryEscape(s.config.AuthToken)
			} else {
				authURL = dbURL + "?authToken=" + url.QueryEscape(s.config.AuthToken)
			}
		}
		newDB, err = sql.Open("libsql", authURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database for workspace %s: %w", workspace, err)
	}

	if err := s.initialize(newDB); err != nil {
		newDB.Close()
		return nil, fmt.Errorf("failed to initialize database for workspace %s: %w", workspace, err)
	}

	if s.config.MaxOpenConns > 0 {
		newDB.SetMaxOpenConns(s.config.MaxOpenConns)
	}
	if s.config.MaxIdleConns > 0 {
		newDB.SetMaxIdleConns(s.config.MaxIdleConns)
	}
	if s.config.ConnMaxIdleSec > 0 {
		newDB.SetConnMaxIdleTime(time.Duration(s.config.ConnMaxIdleSec) * time.Second)
	}
	if s.config.ConnMaxLifeSec > 0 {
		newDB.SetConnMaxLifetime(time.Duration(s.config.ConnMaxLifeSec) * time.Second)
	}

	s.dbs[workspace] = newDB

	s.stmtMu.Lock()
	if _, ok := s.stmtCache[workspace]; !ok {
		s.stmtCache[workspace] = make(map[string]*sql.Stmt)
	}
	s.stmtMu.Unlock()

	s.logger.Info("workspace database opened", zap.String("workspace", workspace))

	stats := newDB.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	return newDB, nil
}

// initialize applies the schema in one transaction.
func (s *Store) initialize(db *sql.DB) error {
	done := metrics.TimeOp("store_initialize")
	success := false
	defer func() { done(success) }()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range schema {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// Config returns the store configuration.
func (s *Store) Config() *Config { return s.config }

// PoolStats aggregates connection pool usage across all open workspaces.
func (s *Store) PoolStats() (inUse, idle int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, db := range s.dbs {
		stats := db.Stats()
		inUse += stats.InUse
		idle += stats.Idle
	}
	return inUse, idle
}

// Ping verifies connectivity for the given workspace.
func (s *Store) Ping(ctx context.Context, workspace string) error {
	db, err := s.getDB(workspace)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close closes all workspace databases, aggregating any errors.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database for workspace %s: %w", name, err))
		}
	}
	s.dbs = make(map[string]*sql.DB)

	s.stmtMu.Lock()
	s.stmtCache = make(map[string]map[string]*sql.Stmt)
	s.stmtMu.Unlock()

	return errors.Join(errs...)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
