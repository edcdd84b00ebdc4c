package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"padbridge/pkg/logx"
)

const shutdownTimeout = 5 * time.Second

// Handler returns the telemetry mux: /metrics plus a /healthz probe.
// healthy may be nil, in which case the probe always reports ok.
func Handler(healthy func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if healthy != nil && !healthy() {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the telemetry endpoint on addr until ctx is cancelled, then
// shuts the listener down gracefully. It blocks for the lifetime of the
// server and returns ctx.Err on a clean stop.
func Serve(ctx context.Context, addr string, healthy func() bool, log logx.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      Handler(healthy),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info("telemetry endpoint listening", logx.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Warn("telemetry shutdown", logx.Err(err))
		}
		<-errc
		log.Info("telemetry endpoint stopped")
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry server on %s: %w", addr, err)
	}
}
