package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cambiowatch/cambiowatch/internal/output"
)

var (
	cleanupDays int
	cleanupYes  bool

	quotaResetKey string
	quotaResetAll bool
	quotaResetYes bool
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the rate history store",
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts and the stored time range",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		stats, err := db.TableStats(cmd.Context())
		if err != nil {
			return err
		}
		return writeReport(cmd, func(f output.Formatter) (string, error) {
			return f.FormatStoreStats(stats)
		})
	},
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete rates older than the retention window",
	Long: `Delete rates older than --days (default: retention.days).

The server runs the same cleanup daily at retention.cleanup_hour.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		days := cfg.Retention.Days
		if cmd.Flags().Changed("days") {
			days = cleanupDays
		}
		if days < 1 {
			return errors.New("--days must be at least 1")
		}
		if !cleanupYes {
			return errors.New("cleanup deletes history; pass --yes to confirm")
		}

		db, err := openStoreWith(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		n, err := db.CleanOlderThan(cmd.Context(), time.Now().UTC().AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d rate(s) older than %d day(s)\n", n, days)
		return err
	},
}

var dbQuotaResetCmd = &cobra.Command{
	Use:   "quota-reset",
	Short: "Reset stored refresh quotas",
	RunE: func(cmd *cobra.Command, args []string) error {
		if quotaResetKey == "" && !quotaResetAll {
			return errors.New("pass --key or --all")
		}
		if quotaResetAll && !quotaResetYes {
			return errors.New("--all requires --yes")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		key := quotaResetKey
		if quotaResetAll {
			key = ""
		}
		n, err := db.ResetQuotas(cmd.Context(), key)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d quota entr(ies)\n", n)
		return err
	},
}

func init() {
	dbCmd.AddCommand(dbStatsCmd, dbCleanupCmd, dbQuotaResetCmd)
	rootCmd.AddCommand(dbCmd)

	addOutputFlags(dbStatsCmd)

	dbCleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Keep this many days of history")
	dbCleanupCmd.Flags().BoolVar(&cleanupYes, "yes", false, "Confirm deletion")

	dbQuotaResetCmd.Flags().StringVar(&quotaResetKey, "key", "", "Quota key to reset (e.g. refresh:203.0.113.7)")
	dbQuotaResetCmd.Flags().BoolVar(&quotaResetAll, "all", false, "Reset every quota key")
	dbQuotaResetCmd.Flags().BoolVar(&quotaResetYes, "yes", false, "Confirm resetting every key")
}
