// Package api serves the read side of the stats server over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"dex-analytics/internal/candles"
	"dex-analytics/internal/domain"
	"dex-analytics/internal/observability"
	"dex-analytics/internal/series"
	"dex-analytics/internal/storage"
)

// cacheControl is set on every successful response.
const cacheControl = "max-age=60"

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Registry       *domain.Registry
	Store          *series.Store
	Cache          *series.RangeCache
	Aggregator     *candles.Aggregator
	Ledger         storage.DerivedStateStore // optional, /ledger answers 400 without it
	LedgerTypes    []string
	DefaultChainID int64
	DefaultSource  domain.Source
	Status         func() any // body of /status
	Health         []HealthCheck
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

// New creates a server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache == nil {
		opts.Cache = series.NewRangeCache(0, series.DefaultCacheTTL)
	}
	if opts.Aggregator == nil {
		opts.Aggregator = candles.NewAggregator(opts.Logger)
	}
	if !opts.DefaultSource.IsValid() {
		opts.DefaultSource = domain.SourceChainlink
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{opts: opts, now: time.Now, logger: opts.Logger.Named("api")}
}

// Router returns the routes without middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(s.handleHealth)).Methods(http.MethodGet)
	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)
	r.Handle("/status", s.wrap("status", s.handleStatus)).Methods(http.MethodGet)

	r.Handle("/candles/{symbol}", s.wrap("candles", s.handleCandles)).Methods(http.MethodGet)
	r.Handle("/chart/{symbol}", s.wrap("chart", s.handleChart)).Methods(http.MethodGet)
	r.Handle("/price/{symbol}", s.wrap("price", s.handlePrice)).Methods(http.MethodGet)
	r.Handle("/ledger/{type}/{symbol}", s.wrap("ledger", s.handleLedger)).Methods(http.MethodGet)

	return r
}

// Handler returns the router behind CORS.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(s.Router())
}

func writeJSON(w http.ResponseWriter, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControl)
	_, err = w.Write(body)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	for _, h := range s.opts.Health {
		if err := h.Check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("check", h.Name), zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "errored", "error": h.Name + " unavailable"})
			return
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) error {
	var body any = map[string]string{"status": "running"}
	if s.opts.Status != nil {
		body = s.opts.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(body)
}
