package output

import (
	"fmt"
	"strings"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatRates renders observations as a Markdown table.
func (f *MarkdownFormatter) FormatRates(title string, rates []core.RateObservation) (string, error) {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(title)))
	}
	sb.WriteString("| Provider | Buy | Sell | Spread | Observed |\n")
	sb.WriteString("|----------|----:|-----:|-------:|----------|\n")

	best := bestMarks(rates)
	for i, r := range rowsOf(rates) {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(r.Name),
			bold(r.Buy, best[i].buy != ""),
			bold(r.Sell, best[i].sell != ""),
			r.Spread,
			r.ObservedAt.Format("2006-01-02 15:04"),
		))
	}
	return sb.String(), nil
}

// FormatStats renders per-provider aggregates as a Markdown table.
func (f *MarkdownFormatter) FormatStats(stats []core.ProviderStats) (string, error) {
	var sb strings.Builder
	sb.WriteString("| Provider | Records | Buy avg | Sell avg | Spread avg |\n")
	sb.WriteString("|----------|--------:|--------:|---------:|-----------:|\n")
	for _, r := range statsRowsOf(stats) {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s |\n",
			escapeMarkdownCell(r.Provider), r.Records, r.AvgBuy, r.AvgSell, r.AvgSprd))
	}
	return sb.String(), nil
}

// FormatStoreStats renders the history table summary as a list.
func (f *MarkdownFormatter) FormatStoreStats(stats core.StoreStats) (string, error) {
	return fmt.Sprintf("- **Records**: %d\n- **Providers**: %d\n- **Oldest**: %s\n- **Newest**: %s\n",
		stats.TotalRecords, stats.TotalProviders, timeOrDash(stats.OldestRecord), timeOrDash(stats.NewestRecord)), nil
}

func bold(value string, on bool) string {
	if on {
		return "**" + value + "**"
	}
	return value
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
