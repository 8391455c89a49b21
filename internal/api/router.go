// Package api is the REST and WebSocket surface of the dxgraph service. It
// fronts the clinic service with a chi router and serves one live layout view
// session per WebSocket connection.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cliniscribe/dxgraph/internal/clinic"
)

// Options tunes the router beyond its service dependencies.
type Options struct {
	// AllowedOrigins is handed to the CORS middleware. Empty allows any
	// origin, which suits local development.
	AllowedOrigins []string
	// FrameInterval is the layout tick cadence for view sessions.
	FrameInterval time.Duration
}

// Router wires HTTP handlers to the clinic service.
type Router struct {
	svc           *clinic.Service
	logger        *zap.Logger
	validate      *validator.Validate
	upgrader      websocket.Upgrader
	frameInterval time.Duration
	origins       []string
}

// NewRouter creates a router. A nil logger disables request logging.
func NewRouter(svc *clinic.Service, logger *zap.Logger, opts Options) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Router{
		svc:      svc,
		logger:   logger,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		frameInterval: opts.FrameInterval,
		origins:       origins,
	}
}

// Handler assembles the middleware stack and route table.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(rt.logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Workspace"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", rt.handleHealth)
	r.Get("/ready", rt.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cases", func(r chi.Router) {
			r.Post("/", rt.handleCreateCase)
			r.Get("/", rt.handleListCases)
			r.Route("/{caseID}", func(r chi.Router) {
				r.Get("/", rt.handleGetCase)
				r.Delete("/", rt.handleDeleteCase)
				r.Put("/reasoning", rt.handleUpdateReasoning)
				r.Post("/exclusions", rt.handleSetExclusion)
				r.Put("/priority", rt.handleSetPriority)
				r.Get("/graph", rt.handleGetGraph)
				r.Get("/completion", rt.handleGetCompletion)
				r.Post("/export", rt.handleExport)
				r.Get("/view", rt.handleView)
			})
		})
	})

	return r
}

// requestLogger logs one line per request with the chi request ID.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", chimiddleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
			)
		})
	}
}
