package metrics

import (
	"strconv"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/observability"
)

// Scrape pipeline metrics
const (
	CyclesTotal          = "scrape_cycles_total"
	CycleDuration        = "scrape_cycle_duration_ms"
	ProvisionalRates     = "scrape_provisional_rates"
	ProvisionalLatency   = "scrape_provisional_latency_ms"
	SourceOutcomesTotal  = "scrape_source_outcomes_total"
	SourceDuration       = "scrape_source_duration_ms"
	RetryAttempt         = "scrape_retry_attempt"
	PersistedRowsTotal   = "scrape_persisted_rows_total"
	RetentionDeleteTotal = "retention_deleted_rows_total"
)

// Source outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeMiss  = "miss"
	OutcomeFault = "fault"
)

// RecordCycle records a settled or exhausted cycle.
func RecordCycle(status string, d time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"status": status}
	_ = observability.TelemetrySystem.Counter(CyclesTotal, 1, labels)
	if d > 0 {
		_ = observability.TelemetrySystem.Histogram(CycleDuration, d, labels)
	}
}

// RecordProvisional records the size and latency of an early return.
func RecordProvisional(count int, elapsed time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(ProvisionalRates, float64(count), nil)
	_ = observability.TelemetrySystem.Histogram(ProvisionalLatency, elapsed, nil)
}

// RecordSourceOutcome records how one provider settled.
func RecordSourceOutcome(provider, outcome string, d time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(SourceOutcomesTotal, 1, map[string]string{
		"provider": provider,
		"outcome":  outcome,
	})
	_ = observability.TelemetrySystem.Histogram(SourceDuration, d, map[string]string{
		"provider": provider,
	})
}

// SetRetryAttempt exposes the current retry attempt; zero when idle.
func SetRetryAttempt(n int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(RetryAttempt, float64(n), nil)
	}
}

// RecordPersisted counts rows written to the store.
func RecordPersisted(n int) {
	if observability.TelemetrySystem != nil && n > 0 {
		_ = observability.TelemetrySystem.Counter(PersistedRowsTotal, float64(n), nil)
	}
}

// RecordRetention counts rows removed by the retention job.
func RecordRetention(days int, n int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RetentionDeleteTotal, float64(n), map[string]string{
			"days": strconv.Itoa(days),
		})
	}
}
