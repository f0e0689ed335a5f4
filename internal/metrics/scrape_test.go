package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cambiowatch/cambiowatch/internal/observability"
)

func TestRecordersAreSafeWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	require.NotPanics(t, func() {
		RecordCycle("complete", time.Second)
		RecordProvisional(2, time.Second)
		RecordSourceOutcome("kambista", OutcomeOK, time.Second)
		SetRetryAttempt(1)
		RecordPersisted(3)
		RecordRetention(30, 10)
		RecordHealthCheck("store", true, time.Millisecond)
		SetStreamClients(1)
		RecordRefreshRejected("quota")
		RecordPanic()
		RecordAPIError("", "NOT_FOUND", 404)
	})
}

func TestRecordersEmitWithTelemetry(t *testing.T) {
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	RecordCycle("empty", 40*time.Second)
	RecordCycle("exhausted", 0)
	RecordSourceOutcome("rextie", OutcomeFault, 120*time.Second)
	RecordPersisted(0)
	RecordPersisted(4)
	RecordAPIError("/api/history/{provider}", "DATABASE_ERROR", 500)

	assert.Greater(t, collector.CountMetricsByName(CyclesTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(CycleDuration), 0)
	assert.Greater(t, collector.CountMetricsByName(SourceOutcomesTotal), 0)
	assert.Greater(t, collector.CountMetricsByName(PersistedRowsTotal), 0)
	assert.EqualValues(t, 1, collector.CountMetricsByName(APIErrorsTotal))
	assert.EqualValues(t, 1, collector.CountMetricsByName(APIRouteErrors))
}
