package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders rate reports for the CLI.
type Formatter interface {
	FormatRates(title string, rates []core.RateObservation) (string, error)
	FormatStats(stats []core.ProviderStats) (string, error)
	FormatStoreStats(stats core.StoreStats) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &StructuredFormatter{Encoding: FormatJSON}
	case FormatYAML:
		return &StructuredFormatter{Encoding: FormatYAML}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// rateRow is the flattened view shared by every format.
type rateRow struct {
	Provider   string    `json:"provider" yaml:"provider"`
	Name       string    `json:"name" yaml:"name"`
	Buy        string    `json:"buy_rate" yaml:"buy_rate"`
	Sell       string    `json:"sell_rate" yaml:"sell_rate"`
	Spread     string    `json:"spread" yaml:"spread"`
	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`
}

func rowsOf(rates []core.RateObservation) []rateRow {
	rows := make([]rateRow, 0, len(rates))
	for _, r := range rates {
		rows = append(rows, rateRow{
			Provider:   string(r.Provider),
			Name:       r.Provider.DisplayName(),
			Buy:        rate(r.BuyRate),
			Sell:       rate(r.SellRate),
			Spread:     rate(r.Spread()),
			ObservedAt: r.ObservedAt.UTC(),
		})
	}
	return rows
}

type statsRow struct {
	Provider string `json:"provider" yaml:"provider"`
	Records  int    `json:"total_records" yaml:"total_records"`
	MinBuy   string `json:"min_buy" yaml:"min_buy"`
	MaxBuy   string `json:"max_buy" yaml:"max_buy"`
	AvgBuy   string `json:"avg_buy" yaml:"avg_buy"`
	MinSell  string `json:"min_sell" yaml:"min_sell"`
	MaxSell  string `json:"max_sell" yaml:"max_sell"`
	AvgSell  string `json:"avg_sell" yaml:"avg_sell"`
	AvgSprd  string `json:"avg_spread" yaml:"avg_spread"`
}

func statsRowsOf(stats []core.ProviderStats) []statsRow {
	rows := make([]statsRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, statsRow{
			Provider: string(s.Provider),
			Records:  s.TotalRecords,
			MinBuy:   rate(s.MinBuy),
			MaxBuy:   rate(s.MaxBuy),
			AvgBuy:   rate(s.AvgBuy),
			MinSell:  rate(s.MinSell),
			MaxSell:  rate(s.MaxSell),
			AvgSell:  rate(s.AvgSell),
			AvgSprd:  rate(s.AvgSpread),
		})
	}
	return rows
}

// rate prints PEN amounts at the four decimals providers quote.
func rate(d decimal.Decimal) string {
	return d.StringFixed(4)
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
