package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teemow/mailledger/internal/instrumentation"
)

// DefaultMetricsAddr is where the scrape endpoint listens unless configured.
const DefaultMetricsAddr = ":9464"

// DefaultShutdownTimeout bounds the graceful drain on shutdown.
const DefaultShutdownTimeout = 30 * time.Second

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// MetricsServerConfig configures a MetricsServer.
type MetricsServerConfig struct {
	// Addr to bind, DefaultMetricsAddr when empty.
	Addr string

	// InstrumentationProvider must be enabled and carry a prometheus
	// exporter; anything else is a configuration error surfaced at
	// construction rather than scrape time.
	InstrumentationProvider *instrumentation.Provider
}

// MetricsServer exposes /metrics and /healthz on a port of its own, so a
// slow scrape never competes with the pipeline.
type MetricsServer struct {
	httpServer *http.Server
	addr       string
}

// NewMetricsServer validates the config and returns an unstarted server.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}
	switch {
	case config.InstrumentationProvider == nil:
		return nil, fmt.Errorf("metrics server needs an instrumentation provider")
	case !config.InstrumentationProvider.Enabled():
		return nil, fmt.Errorf("metrics server needs instrumentation enabled")
	case !config.InstrumentationProvider.HasPrometheusExporter():
		return nil, fmt.Errorf("metrics server needs the prometheus exporter (METRICS_EXPORTER=prometheus)")
	}
	return &MetricsServer{addr: config.Addr}, nil
}

// Start listens and serves until Shutdown or a listener error. It blocks;
// run it in a goroutine for a daemon.
func (s *MetricsServer) Start() error {
	mux := http.NewServeMux()
	// the otel prometheus exporter feeds the default registry, which
	// promhttp.Handler exposes
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	slog.Info("metrics server listening", slog.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight scrapes and stops the listener. Safe to call
// without a prior Start.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bind address.
func (s *MetricsServer) Addr() string {
	return s.addr
}
