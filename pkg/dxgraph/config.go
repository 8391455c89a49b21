package dxgraph

import (
	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/store"
)

// Config exposes a stable wrapper for store configuration in package mode.
// Most fields map directly to internal/store.Config.
type Config struct {
	URL            string
	AuthToken      string
	WorkspacesDir  string
	MultiWorkspace bool
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int

	// Logger receives the embedded subsystem's logs; nil keeps it silent.
	Logger *zap.Logger
}

func (c *Config) toInternal() *store.Config {
	return &store.Config{
		URL:            c.URL,
		AuthToken:      c.AuthToken,
		WorkspacesDir:  c.WorkspacesDir,
		MultiWorkspace: c.MultiWorkspace,
		MaxOpenConns:   c.MaxOpenConns,
		MaxIdleConns:   c.MaxIdleConns,
		ConnMaxIdleSec: c.ConnMaxIdleSec,
		ConnMaxLifeSec: c.ConnMaxLifeSec,
	}
}
