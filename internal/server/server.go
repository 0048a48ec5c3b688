package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ziadkadry99/fingraph/internal/graphstore"
	"github.com/ziadkadry99/fingraph/internal/pipeline"
	"github.com/ziadkadry99/fingraph/internal/schema"
	"github.com/ziadkadry99/fingraph/internal/transcript"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// Deps are the components the server exposes.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Schema   *schema.Descriptor
	// Graph is pinged by /healthz and counted by CheckGraph.
	Graph graphstore.Executor
	// Transcripts is optional; without it /api/turns is not mounted.
	Transcripts *transcript.Store
}

// Server is the HTTP chat server.
type Server struct {
	cfg        Config
	deps       Deps
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a new server with all dependencies.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", serveIndex)
	r.Get("/ws/chat", s.handleWebSocket)

	if s.deps.Pipeline != nil {
		pipeline.RegisterRoutes(r, s.deps.Pipeline, s.deps.Schema)
	}
	if s.deps.Transcripts != nil {
		transcript.RegisterRoutes(r, s.deps.Transcripts)
	}

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Graph  string `json:"graph"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Graph: "unchecked"}
	status := http.StatusOK
	if p, ok := s.deps.Graph.(graphstore.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("graph store unreachable", "error", err)
			resp = healthResponse{Status: "degraded", Graph: "unreachable"}
			status = http.StatusServiceUnavailable
		} else {
			resp.Graph = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// CheckGraph verifies the graph holds company data. An empty or unreachable
// store is logged, not fatal: the server still answers with error kinds.
func (s *Server) CheckGraph(ctx context.Context) (int64, error) {
	if s.deps.Graph == nil {
		return 0, fmt.Errorf("no graph store configured")
	}
	n, err := graphstore.CountCompanies(ctx, s.deps.Graph, s.deps.Schema)
	switch {
	case err != nil:
		s.logger.Warn("graph store check failed", "error", err)
	case n == 0:
		s.logger.Warn("graph store holds no Company nodes; answers will be empty")
	default:
		s.logger.Info("graph store connected", "companies", n)
	}
	return n, err
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// ServerConfig returns the server configuration.
func (s *Server) ServerConfig() Config { return s.cfg }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("fingraph server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
