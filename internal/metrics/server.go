package metrics

import (
	"time"

	"github.com/cambiowatch/cambiowatch/internal/observability"
)

// Server lifecycle and health metrics
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
	StreamClients       = "api_stream_clients"
	RefreshRejected     = "api_refresh_rejected_total"
)

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetStreamClients sets the number of connected live-rate websocket clients.
func SetStreamClients(n int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(StreamClients, float64(n), nil)
	}
}

// RecordRefreshRejected counts manual refreshes refused by auth or quota.
func RecordRefreshRejected(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RefreshRejected, 1, map[string]string{"reason": reason})
	}
}
