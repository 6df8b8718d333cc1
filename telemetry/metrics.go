// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	tokenValidations        prometheus.Counter
	tokenValidationFailures prometheus.Counter
	tokenRefreshes          prometheus.Counter
	tokenRefreshFailures    prometheus.Counter
	chatCommands            prometheus.Counter
	balanceLookups          prometheus.Counter
	balanceLookupErrors     prometheus.Counter

	// Gauges
	tokenRemainingGauge prometheus.Gauge

	// Histograms (seconds)
	tokenRefreshDuration prometheus.Histogram
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		tokenValidations = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_token_validations_total", Help: "Number of access token validation calls"})
		tokenValidationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_token_validation_failures_total", Help: "Number of validation calls that reported the token invalid"})
		tokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_token_refreshes_total", Help: "Number of successful token refreshes"})
		tokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_token_refresh_failures_total", Help: "Number of failed token refreshes"})
		chatCommands = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_chat_commands_total", Help: "Number of chat commands handled"})
		balanceLookups = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_balance_lookups_total", Help: "Number of points ledger lookups"})
		balanceLookupErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "relaxbot_balance_lookup_errors_total", Help: "Number of points ledger lookups that failed"})
		tokenRemainingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "relaxbot_token_remaining_seconds", Help: "Remaining lifetime of the current access token"})
		tokenRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relaxbot_token_refresh_duration_seconds", Help: "Refresh grant call duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// CountValidation records a validation call; ok=false means the provider rejected the token.
func CountValidation(ok bool) {
	if tokenValidations != nil {
		tokenValidations.Inc()
	}
	if !ok && tokenValidationFailures != nil {
		tokenValidationFailures.Inc()
	}
}

// CountRefresh records a refresh attempt outcome.
func CountRefresh(ok bool) {
	if ok {
		if tokenRefreshes != nil {
			tokenRefreshes.Inc()
		}
		return
	}
	if tokenRefreshFailures != nil {
		tokenRefreshFailures.Inc()
	}
}

// ObserveRefreshDuration records how long one refresh grant call took,
// whether it succeeded or not.
func ObserveRefreshDuration(d time.Duration) {
	if tokenRefreshDuration != nil {
		tokenRefreshDuration.Observe(d.Seconds())
	}
}

// SetTokenRemaining records the current token's remaining lifetime.
func SetTokenRemaining(d time.Duration) {
	if tokenRemainingGauge != nil {
		tokenRemainingGauge.Set(d.Seconds())
	}
}

// CountCommand records one handled chat command.
func CountCommand() {
	if chatCommands != nil {
		chatCommands.Inc()
	}
}

// CountBalanceLookup records a ledger lookup; ok=false means the ledger call failed.
func CountBalanceLookup(ok bool) {
	if balanceLookups != nil {
		balanceLookups.Inc()
	}
	if !ok && balanceLookupErrors != nil {
		balanceLookupErrors.Inc()
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
