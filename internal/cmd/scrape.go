package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/core/engine"
	"github.com/cambiowatch/cambiowatch/internal/observability"
	"github.com/cambiowatch/cambiowatch/internal/output"
)

var (
	scrapeProviders []string
	scrapeNoStore   bool
	scrapeNoWait    bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one scrape cycle and print the rates",
	Long: `Run one scrape cycle against the configured providers.

By default the command waits until every provider has settled. With
--no-wait it prints the provisional result, returned as soon as enough
providers answered or the scrape budget elapsed. Stragglers are dropped
when the command exits, so --no-wait implies --no-store.

Examples:
  cambiowatch scrape
  cambiowatch scrape --providers kambista,rextie --no-store -o json`,
	RunE: runScrape,
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(scrapeProviders) > 0 {
		cfg.Scrape.Providers = scrapeProviders
	}

	log := observability.CLILogger
	a, err := buildApp(cmd.Context(), cfg, log, scrapeAppOptions(scrapeNoStore, scrapeNoWait))
	if err != nil {
		return err
	}
	defer func() { _ = a.close() }()

	cycle, _, err := a.service.Refresh(cmd.Context())
	if err != nil {
		return err
	}

	result := cycle.Provisional()
	if !scrapeNoWait {
		ctx, cancel := context.WithTimeout(cmd.Context(), settleTimeout(cfg.Scrape.HardTimeout))
		defer cancel()
		if result, err = cycle.Wait(ctx); err != nil {
			log.Warn("Cycle did not settle in time, printing partial rates", zap.Error(err))
		}
	}

	if result.Error != "" {
		log.Warn("Scrape finished with an error", zap.String("error", result.Error))
	}
	title := fmt.Sprintf("Cycle %s", shortID(result.CycleID))
	return writeReport(cmd, func(f output.Formatter) (string, error) {
		return f.FormatRates(title, sortedRates(result.Rates))
	})
}

// scrapeAppOptions never opens the store for --no-wait: the store closes on
// exit while abandoned stragglers may still be writing to it.
func scrapeAppOptions(noStore, noWait bool) appOptions {
	return appOptions{withStore: !noStore && !noWait}
}

// settleTimeout bounds the wait for stragglers: the orchestrator's
// per-extraction cap plus slack for persistence and session teardown.
func settleTimeout(hard time.Duration) time.Duration {
	return engine.EffectiveHardTimeout(hard) + 30*time.Second
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// sortedRates orders observations by provider key for stable CLI output.
func sortedRates(rates []core.RateObservation) []core.RateObservation {
	out := append([]core.RateObservation(nil), rates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringSliceVar(&scrapeProviders, "providers", nil, "Providers to scrape (default: scrape.providers or all)")
	scrapeCmd.Flags().BoolVar(&scrapeNoStore, "no-store", false, "Do not persist rates")
	scrapeCmd.Flags().BoolVar(&scrapeNoWait, "no-wait", false, "Print the provisional result without waiting for stragglers (implies --no-store)")
	addOutputFlags(scrapeCmd)
}
