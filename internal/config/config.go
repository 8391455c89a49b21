// Package config holds the dxgraphd daemon configuration: HTTP surface,
// MCP transport, view pacing and logging. Store and export settings stay
// env-driven inside their own packages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MCP transport modes.
const (
	MCPOff   = "off"
	MCPStdio = "stdio"
	MCPSSE   = "sse"
)

// Config is the daemon configuration. Environment variables override the
// built-in defaults, and a TOML file, when one is given, overrides both.
type Config struct {
	HTTPAddr        string   `toml:"http_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	MCPTransport    string   `toml:"mcp_transport"`
	MCPSSEAddr      string   `toml:"mcp_sse_addr"`
	MCPSSEEndpoint  string   `toml:"mcp_sse_endpoint"`
	FrameIntervalMS int      `toml:"frame_interval_ms"`
	LogLevel        string   `toml:"log_level"`
	Environment     string   `toml:"environment"`
}

// Default returns the built-in defaults: HTTP on :8080, MCP off, 30 fps.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		CORSOrigins:     []string{"*"},
		MCPTransport:    MCPOff,
		MCPSSEAddr:      ":8081",
		MCPSSEEndpoint:  "/sse",
		FrameIntervalMS: 33,
		LogLevel:        "info",
		Environment:     "production",
	}
}

// Load assembles the configuration: defaults, then environment overrides,
// then the optional TOML file. An empty path falls back to DXGRAPH_CONFIG.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.fromEnv()

	if path == "" {
		path = os.Getenv("DXGRAPH_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fromEnv() {
	if v := os.Getenv("DXGRAPH_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("DXGRAPH_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("DXGRAPH_MCP_TRANSPORT"); v != "" {
		c.MCPTransport = v
	}
	if v := os.Getenv("DXGRAPH_MCP_SSE_ADDR"); v != "" {
		c.MCPSSEAddr = v
	}
	if v := os.Getenv("DXGRAPH_MCP_SSE_ENDPOINT"); v != "" {
		c.MCPSSEEndpoint = v
	}
	if v := getEnvInt("DXGRAPH_FRAME_INTERVAL_MS", 0); v > 0 {
		c.FrameIntervalMS = v
	}
	if v := os.Getenv("DXGRAPH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DXGRAPH_ENV"); v != "" {
		c.Environment = v
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.MCPTransport {
	case MCPOff, MCPStdio, MCPSSE:
	default:
		return fmt.Errorf("invalid mcp_transport %q (want off, stdio or sse)", c.MCPTransport)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.FrameIntervalMS <= 0 {
		return fmt.Errorf("frame_interval_ms must be positive, got %d", c.FrameIntervalMS)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.MCPTransport == MCPSSE && c.MCPSSEAddr == "" {
		return fmt.Errorf("mcp_sse_addr must not be empty when mcp_transport is sse")
	}
	return nil
}

// IsDevelopment reports whether this is a development deployment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// FrameInterval returns the layout tick cadence as a duration.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

// BuildLogger constructs the zap logger for this deployment: JSON in
// production, console in development, level from LogLevel.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	var zcfg zap.Config
	if c.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
