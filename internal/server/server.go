// Package server exposes the analyzers over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/payroll"
	"github.com/spigell/fiscal-sentinel/internal/price"
	"github.com/spigell/fiscal-sentinel/internal/reports"
	"github.com/spigell/fiscal-sentinel/internal/tender"
	"github.com/spigell/fiscal-sentinel/internal/welfare"
)

const (
	defaultMaxUpload       = 32 << 20
	defaultRequestTimeout  = 2 * time.Minute
	defaultShutdownTimeout = 10 * time.Second
	defaultReportLimit     = 20
	maxReportLimit         = 200
)

// Config holds the HTTP settings.
type Config struct {
	Listen          string        `mapstructure:"listen"`
	RequestTimeout  time.Duration `mapstructure:"request-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	MaxUploadBytes  int64         `mapstructure:"max-upload-bytes"`
	RuntimeMetrics  bool          `mapstructure:"runtime-metrics"`
}

// TenderAnalyzer compares tender documents.
type TenderAnalyzer interface {
	Analyze(ctx context.Context, docs []tender.Document) (*tender.Result, error)
}

// PriceAnalyzer screens invoices.
type PriceAnalyzer interface {
	AnalyzeImage(ctx context.Context, data []byte, mimeType string) (*price.Result, error)
	AnalyzeText(ctx context.Context, text string) (*price.Result, error)
}

// GhostAnalyzer scans payroll files.
type GhostAnalyzer interface {
	AnalyzeCSV(ctx context.Context, r io.Reader) (*payroll.Result, error)
}

// WelfareAnalyzer cross-references pension payments with a death registry.
type WelfareAnalyzer interface {
	AnalyzeCSV(ctx context.Context, pension, deaths io.Reader) (*welfare.Result, error)
}

// ReportStore persists scan results.
type ReportStore interface {
	Save(ctx context.Context, analyzer, status string, score float64, source string, payload any) (reports.Report, error)
	Get(ctx context.Context, id string) (reports.Report, error)
	List(ctx context.Context, analyzer string, limit int) ([]reports.Report, error)
	Latest(ctx context.Context) (map[string]reports.Report, error)
}

// Deps are the collaborators of the server. Analyzers left nil answer 503.
type Deps struct {
	Tender    TenderAnalyzer
	Price     PriceAnalyzer
	Ghost     GhostAnalyzer
	Welfare   WelfareAnalyzer
	Reports   ReportStore
	Integrity integrity.Config
	Registry  *prometheus.Registry
	Logger    *zap.Logger
	Version   string
}

// Server serves the fraud-analysis API.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	metrics *metrics
	handler http.Handler

	mu     sync.RWMutex
	latest map[string]float64
}

// New wires routes and middleware.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.Listen == "" {
		return nil, errors.New("listen address is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if deps.Integrity.Weights == nil {
		deps.Integrity = integrity.DefaultConfig()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  log,
		metrics: newMetrics(deps.Registry, cfg.RuntimeMetrics),
		latest:  make(map[string]float64),
	}

	mux := http.NewServeMux()
	s.route(mux, "GET /{$}", s.handleIndex)
	s.route(mux, "POST /api/tender", s.handleTender)
	s.route(mux, "POST /api/price", s.handlePrice)
	s.route(mux, "POST /api/ghost", s.handleGhost)
	s.route(mux, "POST /api/welfare", s.handleWelfare)
	s.route(mux, "GET /api/reports", s.handleListReports)
	s.route(mux, "GET /api/reports/{id}", s.handleGetReport)
	s.route(mux, "GET /api/integrity", s.handleIntegrity)
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}))

	s.handler = withAccessLog(log, withCORS(withTimeout(cfg.RequestTimeout, mux)))
	return s, nil
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	s.logger.Info("api listening", zap.String("listen", s.cfg.Listen))
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
