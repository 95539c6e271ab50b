package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cheap-k8s/stageflow/pkg/svc/driver"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultAddress is the listen address of the records and metrics endpoints.
	DefaultAddress = ":9090"
	// RecordsPath serves the reconciliation records as JSON.
	RecordsPath = "/records"
	// MetricsPath serves the Prometheus metrics.
	MetricsPath = "/metrics"
	// HealthPath answers liveness probes.
	HealthPath = "/healthz"

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// RecordSource lists reconciliation records.
type RecordSource interface {
	Records() []driver.Record
}

// Server serves records and metrics.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a server listening on address.
func NewServer(address string, collector *Collector, records RecordSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		server: &http.Server{
			Addr:              address,
			Handler:           NewHandler(collector, records),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
	}
}

// NewHandler returns the HTTP handler with every endpoint mounted.
func NewHandler(collector *Collector, records RecordSource) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET "+MetricsPath, promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{
		Registry: collector.Registry(),
	}))
	mux.HandleFunc("GET "+RecordsPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		err := json.NewEncoder(w).Encode(records.Records())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("GET "+HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("serving records and metrics", "address", listener.Addr().String())

	errs := make(chan error, 1)

	go func() {
		errs <- s.server.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err = s.server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// FetchRecords reads the records served at baseURL.
func FetchRecords(ctx context.Context, client *http.Client, baseURL string) ([]driver.Record, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+RecordsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var records []driver.Record

	err = json.NewDecoder(resp.Body).Decode(&records)
	if err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	return records, nil
}

// ErrUnexpectedStatus is returned when the records endpoint does not answer 200.
var ErrUnexpectedStatus = errors.New("unexpected status")
