package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/appid"
	"github.com/cambiowatch/cambiowatch/internal/config"
	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
	"github.com/cambiowatch/cambiowatch/internal/observability"
)

var doctorBrowser bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

With --browser the doctor also launches the headless browser used for
scraping. It fails when the Playwright driver or Chromium is missing; install
them with:
  go run github.com/playwright-community/playwright-go/cmd/playwright install chromium`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		log := observability.CLILogger
		log.Info("=== " + appid.Current().BinaryName + " doctor ===")
		log.Info("")

		allChecks := true
		totalChecks := 5
		if doctorBrowser {
			totalChecks++
		}
		step := 0
		next := func() int { step++; return step }

		goVersion := runtime.Version()
		log.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ✅ %s %s/%s", next(), totalChecks, goVersion, runtime.GOOS, runtime.GOARCH),
			zap.String("go_version", goVersion))

		version := crucible.GetVersion()
		if version.Crucible != "" && version.Gofulmen != "" {
			log.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen/Crucible... ✅ v%s / v%s", next(), totalChecks, version.Gofulmen, version.Crucible))
		} else {
			log.Warn(fmt.Sprintf("[%d/%d] Checking Gofulmen/Crucible... ⚠️  version metadata unavailable", next(), totalChecks))
			allChecks = false
		}

		cfg, cfgErr := loadConfig()
		if cfgErr != nil {
			log.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ invalid", next(), totalChecks), zap.Error(cfgErr))
			allChecks = false
		} else {
			log.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ %s", next(), totalChecks, configSource()))
		}

		if cfgErr == nil {
			if _, err := extractor.Build(cfg.Scrape.Providers, extractor.Options{}); err != nil {
				log.Error(fmt.Sprintf("[%d/%d] Checking providers... ❌ %v", next(), totalChecks, err))
				allChecks = false
			} else {
				log.Info(fmt.Sprintf("[%d/%d] Checking providers... ✅ %s", next(), totalChecks, providerList(cfg.Scrape.Providers)))
			}

			if db, err := openStoreWith(ctx, cfg.Store); err != nil {
				log.Error(fmt.Sprintf("[%d/%d] Checking database... ❌ %s", next(), totalChecks, describeStore(cfg.Store)), zap.Error(err))
				allChecks = false
			} else {
				stats, statsErr := db.TableStats(ctx)
				_ = db.Close()
				if statsErr != nil {
					log.Warn(fmt.Sprintf("[%d/%d] Checking database... ⚠️  %s (stats unavailable)", next(), totalChecks, describeStore(cfg.Store)), zap.Error(statsErr))
					allChecks = false
				} else {
					log.Info(fmt.Sprintf("[%d/%d] Checking database... ✅ %s, %d rates", next(), totalChecks, describeStore(cfg.Store), stats.TotalRecords))
				}
			}
		} else {
			log.Warn(fmt.Sprintf("[%d/%d] Checking providers... ⚠️  skipped (config not loaded)", next(), totalChecks))
			log.Warn(fmt.Sprintf("[%d/%d] Checking database... ⚠️  skipped (config not loaded)", next(), totalChecks))
		}

		if doctorBrowser {
			launcher := &extractor.PlaywrightLauncher{Headless: true}
			if cfgErr == nil {
				launcher.Channel = cfg.Scrape.BrowserChannel
			}
			launchCtx, cancel := context.WithTimeout(ctx, time.Minute)
			session, err := launcher.Launch(launchCtx)
			cancel()
			if err != nil {
				log.Error(fmt.Sprintf("[%d/%d] Checking browser... ❌ cannot launch", next(), totalChecks), zap.Error(err))
				allChecks = false
			} else {
				_ = session.Close()
				log.Info(fmt.Sprintf("[%d/%d] Checking browser... ✅ launched", next(), totalChecks))
			}
		}

		log.Info("")
		if allChecks {
			log.Info("✅ All checks passed!")
		} else {
			log.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		log.Info("=== End Diagnostics ===")
	},
}

var doctorInitForce bool

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(configPath, []byte(initConfigYAML), 0644); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := observability.CLILogger
		configPath := config.DefaultConfigPath()
		dataDir := config.DefaultDataDir()

		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		log.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		log.Info(fmt.Sprintf("  .env file:      %s", existenceStatus(fileExists(".env"))))

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return nil
		}
		log.Info("  Database:       " + describeStore(cfg.Store))

		prefix := appid.Current().EnvPrefix
		log.Info("")
		log.Info("Environment:")
		for _, name := range []string{"API_ADMIN_KEY", "STORE_URL", "STORE_AUTH_TOKEN"} {
			log.Info(fmt.Sprintf("  %s%s: %s", prefix, name, envStatus(prefix+name)))
		}
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		observability.CLILogger.Info("Config is valid", zap.String("source", configSource()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd, doctorConfigCmd, doctorValidateCmd)

	doctorCmd.Flags().BoolVar(&doctorBrowser, "browser", false, "also launch the headless browser")
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
}

const initConfigYAML = `# cambiowatch config - created by 'cambiowatch doctor init'
server:
  host: localhost
  port: 3000
logging:
  level: info
  profile: structured  # or simple
  environment: production
scrape:
  interval: 5m
  budget: 30s
  min_results: 2
  max_retries: 3
  # providers: [kambista, tkambio, tucambista, rextie, bloomberg, westernunion]
retention:
  days: 30
  cleanup_hour: 3
api:
  # admin_key: ""  # Set via CAMBIOWATCH_API_ADMIN_KEY to protect /api/refresh
  rate_limit: 100
  rate_window: 15m
  refresh_limit: 10
  allowed_origins:
    - http://localhost:3000
`

func configSource() string {
	if used := strings.TrimSpace(cfgFile); used != "" {
		return used
	}
	if path := config.DefaultConfigPath(); fileExists(path) {
		return path
	}
	return "defaults and environment"
}

func providerList(names []string) string {
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}
	out := make([]string, 0, len(extractor.DefaultProviders))
	for _, p := range extractor.DefaultProviders {
		out = append(out, string(p))
	}
	return strings.Join(out, ", ")
}

func describeStore(cfg config.StoreConfig) string {
	if strings.TrimSpace(cfg.URL) != "" {
		return cfg.Driver + " (remote)"
	}
	path, _ := filepath.Abs(cfg.Path)
	if info, err := os.Stat(path); err == nil {
		return fmt.Sprintf("%s (%s)", path, formatFileSize(info.Size()))
	}
	return path + " (not created yet)"
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
