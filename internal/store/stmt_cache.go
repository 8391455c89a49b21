package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cliniscribe/dxgraph/internal/metrics"
)

// getPreparedStmt returns or prepares and caches a statement for the given
// workspace DB. Cached statements are owned by the cache and closed with the
// database; callers must not close them.
func (s *Store) getPreparedStmt(ctx context.Context, workspace string, db *sql.DB, sqlText string) (*sql.Stmt, error) {
	// fast path read
	s.stmtMu.RLock()
	if wsCache, ok := s.stmtCache[workspace]; ok {
		if stmt, ok2 := wsCache[sqlText]; ok2 {
			s.stmtMu.RUnlock()
			metrics.Default().IncStmtCacheHit(workspace)
			return stmt, nil
		}
	}
	s.stmtMu.RUnlock()
	metrics.Default().IncStmtCacheMiss(workspace)

	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtMu.Lock()
	if _, ok := s.stmtCache[workspace]; !ok {
		s.stmtCache[workspace] = make(map[string]*sql.Stmt)
	}
	s.stmtCache[workspace][sqlText] = stmt
	s.stmtMu.Unlock()
	return stmt, nil
}
