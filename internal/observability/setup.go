package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	spamViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_spam_violations_total",
			Help: "Total number of spam violations recorded",
		},
		[]string{"type"},
	)

	spamChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaybot_spam_checks_total",
			Help: "Total number of spam checks by result",
		},
		[]string{"result"},
	)

	spamCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relaybot_spam_check_duration_seconds",
			Help:    "Time spent classifying inbound messages",
			Buckets: prometheus.DefBuckets,
		},
	)

	activeMutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaybot_active_mutes",
			Help: "Current number of users with an active auto-mute",
		},
	)
)

// Init registers the metrics, installs a tracer provider, and serves
// /metrics on addr. An empty addr disables the endpoint.
func Init(ctx context.Context, addr string) error {
	prometheus.MustRegister(spamViolationsTotal, spamChecksTotal, spamCheckDuration, activeMutes)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("metrics server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}
	return nil
}

// RecordViolation counts a recorded spam violation by type.
func RecordViolation(violationType string) {
	spamViolationsTotal.WithLabelValues(violationType).Inc()
}

// StartSpamCheck returns a closure recording the check's duration and
// result once classification finishes.
func StartSpamCheck() func(result string) {
	start := time.Now()
	return func(result string) {
		spamChecksTotal.WithLabelValues(result).Inc()
		spamCheckDuration.Observe(time.Since(start).Seconds())
	}
}

// SetActiveMutes updates the active-mute gauge, refreshed by the sweep.
func SetActiveMutes(n int) {
	activeMutes.Set(float64(n))
}
