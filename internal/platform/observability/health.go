package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// StatusReporter supplies component statuses for the health payload.
type StatusReporter func() map[string]any

// HealthServer exposes /healthz, /readyz and /metrics.
type HealthServer struct {
	port     int
	pinger   interface{ Ping(context.Context) error }
	reporter StatusReporter
	logger   *zerolog.Logger
}

// NewHealthServer creates the observability HTTP surface.
func NewHealthServer(port int, pinger interface{ Ping(context.Context) error }, reporter StatusReporter, logger *zerolog.Logger) *HealthServer {
	return &HealthServer{port: port, pinger: pinger, reporter: reporter, logger: logger}
}

// Run serves until ctx is cancelled.
func (h *HealthServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/readyz", h.handleReadyz)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", h.port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn().Err(err).Msg("health: shutdown")
		}

		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("health server: %w", err)
	}
}

func (h *HealthServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	if h.reporter != nil {
		payload["components"] = h.reporter()
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn().Err(err).Msg("health: encode healthz")
	}
}

func (h *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readHeaderTimeout)
		defer cancel()

		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("health: database not ready")
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)

			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
