package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/appid"
	"github.com/cambiowatch/cambiowatch/internal/config"
	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
	"github.com/cambiowatch/cambiowatch/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()
		identity := appid.Current()

		log.Info("=== " + identity.BinaryName + " environment ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + identity.BinaryName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		log.Info("Configuration:")
		log.Info(fmt.Sprintf("  Server:         %s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		log.Info("  Log Profile:    " + cfg.Logging.Profile)
		log.Info("  DB Driver:      " + cfg.Store.Driver)
		if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  DB URL:         (set)")
		} else {
			log.Info("  DB Path:        " + cfg.Store.Path)
		}
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
		log.Info("  Config File:    " + config.DefaultConfigPath())
		log.Info("")

		providers := cfg.Scrape.Providers
		if len(providers) == 0 {
			for _, p := range extractor.DefaultProviders {
				providers = append(providers, string(p))
			}
		}
		log.Info("Scrape:")
		log.Info("  Providers:      " + strings.Join(providers, ", "))
		log.Info("  Interval:       " + cfg.Scrape.Interval.String())
		log.Info(fmt.Sprintf("  Early Return:   %d results or %s", cfg.Scrape.MinResults, cfg.Scrape.Budget))
		log.Info(fmt.Sprintf("  Retries:        %d (backoff %s..%s)", cfg.Scrape.MaxRetries, cfg.Scrape.BackoffBase, cfg.Scrape.BackoffCap))
		log.Info(fmt.Sprintf("  Retention:      %d days, cleanup at %02d:00", cfg.Retention.Days, cfg.Retention.CleanupHour))
		log.Info(fmt.Sprintf("  Kafka:          %t", cfg.Kafka.Enabled))
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
