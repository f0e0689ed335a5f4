package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatRates renders observations, marking the best buy and sell quotes.
func (f *TableFormatter) FormatRates(title string, rates []core.RateObservation) (string, error) {
	t := newTable(title)
	t.AppendHeader(table.Row{"Provider", "Buy", "Sell", "Spread", "Observed"})

	best := bestMarks(rates)
	for i, r := range rowsOf(rates) {
		t.AppendRow(table.Row{r.Name, r.Buy + best[i].buy, r.Sell + best[i].sell, r.Spread, r.ObservedAt.Format("2006-01-02 15:04:05")})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d providers", len(rates)), "", "", "", "* best"})
	return t.Render(), nil
}

// FormatStats renders per-provider aggregates.
func (f *TableFormatter) FormatStats(stats []core.ProviderStats) (string, error) {
	t := newTable("")
	t.AppendHeader(table.Row{"Provider", "Records", "Buy min", "Buy max", "Buy avg", "Sell min", "Sell max", "Sell avg", "Spread avg"})
	for _, r := range statsRowsOf(stats) {
		t.AppendRow(table.Row{r.Provider, r.Records, r.MinBuy, r.MaxBuy, r.AvgBuy, r.MinSell, r.MaxSell, r.AvgSell, r.AvgSprd})
	}
	return t.Render(), nil
}

// FormatStoreStats renders the history table summary.
func (f *TableFormatter) FormatStoreStats(stats core.StoreStats) (string, error) {
	t := newTable("")
	t.AppendRows([]table.Row{
		{"Records", stats.TotalRecords},
		{"Providers", stats.TotalProviders},
		{"Oldest", timeOrDash(stats.OldestRecord)},
		{"Newest", timeOrDash(stats.NewestRecord)},
	})
	return t.Render(), nil
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	if title != "" {
		t.SetTitle(title)
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t
}

type mark struct{ buy, sell string }

func bestMarks(rates []core.RateObservation) []mark {
	marks := make([]mark, len(rates))
	buy, sell := core.SelectBest(rates)
	for i, r := range rates {
		if buy != nil && r.Provider == buy.Provider {
			marks[i].buy = " *"
		}
		if sell != nil && r.Provider == sell.Provider {
			marks[i].sell = " *"
		}
	}
	return marks
}
