package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core/extractor"
	errwrap "github.com/cambiowatch/cambiowatch/internal/errors"
	"github.com/cambiowatch/cambiowatch/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the binary can start: version info, configuration and the extractor registry.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewValidationError("version information missing"))
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")

		cfg, err := loadConfig()
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", err)
		}
		log.Info("✅ Configuration valid")

		extractors, err := extractor.Build(cfg.Scrape.Providers, extractor.Options{})
		if err != nil {
			ExitWithCode(log, foundry.ExitConfigInvalid, "Provider list invalid", err)
		}
		log.Info("✅ Extractors ready", zap.Int("providers", len(extractors)))

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
