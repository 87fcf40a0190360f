package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/telemetry"
)

func telemetryMetrics(reg *prometheus.Registry) *telemetry.PromMetrics {
	return telemetry.GetPromMetrics(reg)
}

// withRequestID stamps every request with a UUID for cross-referencing
// access logs against the structured logs the engine and maintainer emit
// (teacher idiom: per-request correlation IDs through the whole log trail).
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		log.Debug().Str("request_id", reqID).Str("path", r.URL.Path).Msg("http request")
		next.ServeHTTP(w, r)
	})
}

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the visibility daemon: build the Decision Cache and expose /metrics and /events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8087", "HTTP listen address")
}

func runServe() error {
	hub := newEventHub()
	activeHub = hub
	go hub.run()

	c, err := wireCore(dataDir, sqlitePath, []appid.UserId{0})
	if err != nil {
		return err
	}
	defer c.store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	c.engine.Metrics = telemetryMetrics(reg)
	c.maintainer.Metrics = c.engine.Metrics
	c.maintainer.OnSystemReady()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events", hub.serveHTTP)

	srv := &http.Server{
		Addr:         serveAddr,
		Handler:      withRequestID(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", serveAddr).Msg("pkgvisibilityd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
