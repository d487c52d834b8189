package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgecloud_mcp",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Total number of tool calls by outcome",
		},
		[]string{"tool", "outcome"},
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgecloud_mcp",
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			// infer may block up to the 60s server-side wait
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"tool"},
	)

	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgecloud_mcp",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of upstream API requests",
		},
		[]string{"route", "method", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgecloud_mcp",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream API requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(toolCallsTotal, toolCallDuration, apiRequestsTotal, apiRequestDuration)
}

// ObserveToolCall records one dispatched tool call.
func ObserveToolCall(tool string, isError bool, d time.Duration) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveAPIRequest records one upstream request. route must be a path
// template (e.g. "/infer_request/{id}") to keep label cardinality bounded.
// status 0 means the request failed before a response arrived.
func ObserveAPIRequest(route, method string, status int, d time.Duration) {
	statusLabel := "transport_error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	apiRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	apiRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler exposes /metrics and /healthz.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the metrics listener until ctx is cancelled.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
