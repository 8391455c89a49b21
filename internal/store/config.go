package store

import (
	"os"
	"strconv"
)

// Config holds the case store configuration.
type Config struct {
	URL            string
	AuthToken      string
	WorkspacesDir  string
	MultiWorkspace bool
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

// NewConfig creates a new Config from environment variables.
func NewConfig() *Config {
	url := os.Getenv("DXGRAPH_DB_URL")
	if url == "" {
		url = "file:./dxgraph.db"
	}

	cfg := &Config{
		URL:            url,
		AuthToken:      os.Getenv("DXGRAPH_DB_AUTH_TOKEN"),
		MaxOpenConns:   getEnvInt("DXGRAPH_DB_MAX_OPEN", 0),
		MaxIdleConns:   getEnvInt("DXGRAPH_DB_MAX_IDLE", 0),
		ConnMaxIdleSec: getEnvInt("DXGRAPH_DB_CONN_MAX_IDLE_SEC", 0),
		ConnMaxLifeSec: getEnvInt("DXGRAPH_DB_CONN_MAX_LIFE_SEC", 0),
	}

	if dir := os.Getenv("DXGRAPH_WORKSPACES_DIR"); dir != "" {
		cfg.WorkspacesDir = dir
		cfg.MultiWorkspace = true
	}
	if v := os.Getenv("DXGRAPH_MULTI_WORKSPACE"); v == "1" || v == "true" {
		cfg.MultiWorkspace = true
		if cfg.WorkspacesDir == "" {
			cfg.WorkspacesDir = "./workspaces"
		}
	}

	return cfg
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
