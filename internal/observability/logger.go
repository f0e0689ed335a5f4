package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger serves one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger serves `serve` and everything it starts.
	ServerLogger *logging.Logger
)

// ServerLogOptions selects how the server logger renders.
type ServerLogOptions struct {
	Service     string
	Level       string // trace, debug, info, warn, error
	Profile     string // "simple" for console lines, anything else for JSON
	Namespace   string
	Environment string
}

// InitCLILogger installs the console logger used by one-shot commands.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger installs the long-running service logger.
func InitServerLogger(opts ServerLogOptions) {
	logger, err := logging.New(opts.config())
	if err != nil {
		fatal(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}
	ServerLogger = logger
}

// Logger returns the server logger once serve has started, else the CLI one.
func Logger() *logging.Logger {
	if ServerLogger != nil {
		return ServerLogger
	}
	return CLILogger
}

func (o ServerLogOptions) config() *logging.LoggerConfig {
	env := o.Environment
	if env == "" {
		env = "production"
	}
	fields := map[string]any{}
	if o.Namespace != "" {
		fields["namespace"] = o.Namespace
	}

	cfg := &logging.LoggerConfig{
		DefaultLevel: severity(o.Level),
		Service:      o.Service,
		Environment:  env,
		StaticFields: fields,
	}

	if strings.EqualFold(o.Profile, "simple") {
		cfg.Profile = logging.ProfileSimple
		cfg.Sinks = []logging.SinkConfig{stderrSink("console")}
		return cfg
	}

	cfg.Profile = logging.ProfileStructured
	cfg.Sinks = []logging.SinkConfig{stderrSink("json")}
	cfg.Middleware = []logging.MiddlewareConfig{{
		Name:    "correlation",
		Enabled: true,
		Order:   100,
		Config:  map[string]any{},
	}}
	cfg.EnableCaller = true
	cfg.EnableStacktrace = true
	return cfg
}

func stderrSink(format string) logging.SinkConfig {
	return logging.SinkConfig{
		Type:    "console",
		Format:  format,
		Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
	}
}

func severity(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// fatal runs before any logger exists, so it writes to stderr directly.
func fatal(code foundry.ExitCode, msg string, err error) {
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}
