package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServerLoggerProfiles(t *testing.T) {
	t.Cleanup(func() { ServerLogger = nil })

	t.Run("structured", func(t *testing.T) {
		cfg := ServerLogOptions{Service: "cambiowatch", Level: "debug", Profile: "structured", Namespace: "cambiowatch"}.config()
		assert.Equal(t, logging.ProfileStructured, cfg.Profile)
		assert.Equal(t, "DEBUG", cfg.DefaultLevel)
		assert.Equal(t, "cambiowatch", cfg.StaticFields["namespace"])
		assert.Equal(t, "production", cfg.Environment)
		require.Len(t, cfg.Middleware, 1)
		assert.Equal(t, "correlation", cfg.Middleware[0].Name)
	})

	t.Run("simple", func(t *testing.T) {
		cfg := ServerLogOptions{Service: "cambiowatch", Level: "warn", Profile: "SIMPLE", Environment: "staging"}.config()
		assert.Equal(t, logging.ProfileSimple, cfg.Profile)
		assert.Equal(t, "WARN", cfg.DefaultLevel)
		assert.Empty(t, cfg.StaticFields)
		assert.Equal(t, "staging", cfg.Environment)
		assert.Empty(t, cfg.Middleware)
	})

	t.Run("initializes logger", func(t *testing.T) {
		InitServerLogger(ServerLogOptions{Service: "cambiowatch-test", Level: "info", Namespace: "cambiowatch_test"})
		require.NotNil(t, ServerLogger)
		assert.Same(t, ServerLogger, Logger())
		ServerLogger.Info("structured logger ready", zap.String("component", "test"))
	})
}

func TestSeverity(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		"info":    "INFO",
		"warning": "WARN",
		" Error ": "ERROR",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		assert.Equal(t, want, severity(in), in)
	}
}

func TestLoggerFallsBackToCLI(t *testing.T) {
	prevServer, prevCLI := ServerLogger, CLILogger
	t.Cleanup(func() { ServerLogger, CLILogger = prevServer, prevCLI })

	ServerLogger = nil
	InitCLILogger("cambiowatch-cli", true)
	require.NotNil(t, CLILogger)
	assert.Same(t, CLILogger, Logger())
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9091")
	require.NoError(t, err)
	assert.Equal(t, 9091, port)

	_, err = resolvePort("no-port")
	assert.Error(t, err)
}

func TestStopMetricsWithoutInit(t *testing.T) {
	require.NoError(t, StopMetrics())
	assert.Nil(t, TelemetrySystem)
}
