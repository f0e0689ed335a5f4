package metrics

import (
	"strconv"

	"github.com/cambiowatch/cambiowatch/internal/observability"
)

// API error metrics
const (
	APIErrorsTotal  = "api_errors_total"
	APIPanicsTotal  = "api_panics_total"
	APIRouteErrors  = "api_route_errors_total"
	unknownEndpoint = "unknown"
)

// RecordAPIError counts an error response by code and status, and by route
// when one is known.
func RecordAPIError(endpoint, code string, status int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(APIErrorsTotal, 1, map[string]string{
		"error_code":  code,
		"http_status": strconv.Itoa(status),
	})
	if endpoint == "" {
		endpoint = unknownEndpoint
	}
	_ = observability.TelemetrySystem.Counter(APIRouteErrors, 1, map[string]string{
		"endpoint":   endpoint,
		"error_code": code,
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(APIPanicsTotal, 1, nil)
	}
}
