//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	dbTotal      *prom.CounterVec
	dbSeconds    *prom.HistogramVec
	toolTotal    *prom.CounterVec
	toolSeconds  *prom.HistogramVec
	buildTotal   *prom.CounterVec
	tickSeconds  prom.Histogram
	viewSessions prom.Gauge
	exportTotal  *prom.CounterVec
	stmtHits     *prom.CounterVec
	stmtMisses   *prom.CounterVec
	connsInUse   prom.Gauge
	connsIdle    prom.Gauge
}

func (p *promRecorder) IncDBOpTotal(op string, success bool) {
	p.dbTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveDBOpSeconds(op string, success bool, seconds float64) {
	p.dbSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncGraphBuild(cacheHit bool) {
	p.buildTotal.WithLabelValues(fmt.Sprintf("%t", cacheHit)).Inc()
}

func (p *promRecorder) ObserveTickSeconds(seconds float64) {
	p.tickSeconds.Observe(seconds)
}

func (p *promRecorder) AddViewSessions(delta int) {
	p.viewSessions.Add(float64(delta))
}

func (p *promRecorder) IncExportTotal(provider string, success bool) {
	p.exportTotal.WithLabelValues(provider, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) IncStmtCacheHit(workspace string) {
	p.stmtHits.WithLabelValues(workspace).Inc()
}

func (p *promRecorder) IncStmtCacheMiss(workspace string) {
	p.stmtMisses.WithLabelValues(workspace).Inc()
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.connsInUse.Set(float64(inUse))
	p.connsIdle.Set(float64(idle))
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := &promRecorder{
		dbTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "store_ops_total",
			Help: "Total number of case store operations",
		}, []string{"op", "success"}),
		dbSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "store_op_seconds",
			Help:    "Case store operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of MCP tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "MCP tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		buildTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "graph_builds_total",
			Help: "Total number of graph snapshot derivations",
		}, []string{"cache_hit"}),
		tickSeconds: prom.NewHistogram(prom.HistogramOpts{
			Name:    "layout_tick_seconds",
			Help:    "Layout engine tick duration in seconds",
			Buckets: prom.ExponentialBuckets(1e-6, 4, 10),
		}),
		viewSessions: prom.NewGauge(prom.GaugeOpts{
			Name: "view_sessions_active",
			Help: "Number of live graph view sessions",
		}),
		exportTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "report_exports_total",
			Help: "Total number of report export attempts",
		}, []string{"provider", "success"}),
		stmtHits: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_hits_total",
			Help: "Prepared statement cache hits",
		}, []string{"workspace"}),
		stmtMisses: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_misses_total",
			Help: "Prepared statement cache misses",
		}, []string{"workspace"}),
		connsInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Open database connections currently in use",
		}),
		connsIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Idle database connections",
		}),
	}

	registry.MustRegister(
		p.dbTotal, p.dbSeconds, p.toolTotal, p.toolSeconds,
		p.buildTotal, p.tickSeconds, p.viewSessions, p.exportTotal,
		p.stmtHits, p.stmtMisses, p.connsInUse, p.connsIdle,
	)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
