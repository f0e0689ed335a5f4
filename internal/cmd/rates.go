package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cambiowatch/cambiowatch/internal/core"
	"github.com/cambiowatch/cambiowatch/internal/output"
)

var (
	historyHours int
	statsHours   int
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Show the latest stored rate per provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		latest, err := db.LatestPerProvider(cmd.Context())
		if err != nil {
			return err
		}
		return writeReport(cmd, func(f output.Formatter) (string, error) {
			return f.FormatRates("Latest rates", latest)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <provider>",
	Short: "Show stored rates of one provider",
	Long: `Show the stored rates of one provider, newest first.

The provider may be given by key (kambista) or display name ("Western Union Peru").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, ok := core.ParseProvider(args[0])
		if !ok {
			return fmt.Errorf("unknown provider %q (valid: %v)", args[0], core.Providers())
		}
		if historyHours < 1 || historyHours > 720 {
			return fmt.Errorf("--hours must be between 1 and 720")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		since := time.Now().UTC().Add(-time.Duration(historyHours) * time.Hour)
		rows, err := db.History(cmd.Context(), provider, since)
		if err != nil {
			return err
		}
		title := fmt.Sprintf("%s, last %dh", provider.DisplayName(), historyHours)
		return writeReport(cmd, func(f output.Formatter) (string, error) {
			return f.FormatRates(title, rows)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [provider...]",
	Short: "Show min/max/avg rates per provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statsHours < 1 || statsHours > 720 {
			return fmt.Errorf("--hours must be between 1 and 720")
		}
		providers := core.Providers()
		if len(args) > 0 {
			providers = make([]core.Provider, 0, len(args))
			for _, arg := range args {
				p, ok := core.ParseProvider(arg)
				if !ok {
					return fmt.Errorf("unknown provider %q", arg)
				}
				providers = append(providers, p)
			}
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		since := time.Now().UTC().Add(-time.Duration(statsHours) * time.Hour)
		stats := make([]core.ProviderStats, 0, len(providers))
		for _, p := range providers {
			s, err := db.Stats(cmd.Context(), p, since)
			if err != nil {
				return err
			}
			if s != nil && s.TotalRecords > 0 {
				stats = append(stats, *s)
			}
		}
		return writeReport(cmd, func(f output.Formatter) (string, error) {
			return f.FormatStats(stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(ratesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)

	historyCmd.Flags().IntVar(&historyHours, "hours", 24, "Lookback window in hours (1-720)")
	statsCmd.Flags().IntVar(&statsHours, "hours", 24, "Lookback window in hours (1-720)")

	addOutputFlags(ratesCmd)
	addOutputFlags(historyCmd)
	addOutputFlags(statsCmd)
}
