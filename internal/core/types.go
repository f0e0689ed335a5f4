package core

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies one exchange-rate source.
type Provider string

const (
	ProviderKambista     Provider = "kambista"
	ProviderTkambio      Provider = "tkambio"
	ProviderTucambista   Provider = "tucambista"
	ProviderRextie       Provider = "rextie"
	ProviderBloomberg    Provider = "bloomberg"
	ProviderWesternUnion Provider = "westernunion"
	ProviderSunat        Provider = "sunat"
)

var providerNames = map[Provider]string{
	ProviderKambista:     "Kambista",
	ProviderTkambio:      "Tkambio",
	ProviderTucambista:   "Tucambista",
	ProviderRextie:       "Rextie",
	ProviderBloomberg:    "Bloomberg Línea (Spot)",
	ProviderWesternUnion: "Western Union Peru",
	ProviderSunat:        "SUNAT",
}

// Providers returns the known providers sorted by key.
func Providers() []Provider {
	out := make([]Provider, 0, len(providerNames))
	for p := range providerNames {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether p belongs to the known provider set.
func (p Provider) Valid() bool {
	_, ok := providerNames[p]
	return ok
}

// DisplayName returns the human-facing provider name.
func (p Provider) DisplayName() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return string(p)
}

// ParseProvider accepts a provider key or its display name, case-insensitively.
func ParseProvider(value string) (Provider, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	key := Provider(strings.ToLower(value))
	if key.Valid() {
		return key, true
	}
	for p, name := range providerNames {
		if strings.EqualFold(name, value) {
			return p, true
		}
	}
	return "", false
}

// RateObservation is one buy/sell quote captured from a provider.
type RateObservation struct {
	Provider   Provider        `json:"provider"`
	BuyRate    decimal.Decimal `json:"buy_rate"`
	SellRate   decimal.Decimal `json:"sell_rate"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Spread is the sell/buy difference in PEN.
func (r RateObservation) Spread() decimal.Decimal {
	return r.SellRate.Sub(r.BuyRate)
}

// Valid reports whether both rates are strictly positive and the provider is known.
func (r RateObservation) Valid() bool {
	return r.Provider.Valid() && r.BuyRate.IsPositive() && r.SellRate.IsPositive()
}

// CycleResult reports the observations gathered by one scrape cycle.
type CycleResult struct {
	CycleID           string            `json:"cycle_id"`
	StartedAt         time.Time         `json:"started_at"`
	Rates             []RateObservation `json:"rates"`
	AllSourcesSettled bool              `json:"all_sources_settled"`
	Error             string            `json:"error,omitempty"`
}

// Snapshot is the process-wide view of current rates. Published snapshots are
// never mutated.
type Snapshot struct {
	Rates        []RateObservation `json:"rates"`
	LastUpdate   *time.Time        `json:"last_update"`
	Error        string            `json:"error,omitempty"`
	Pending      bool              `json:"pending,omitempty"`
	RetryAttempt int               `json:"retry_attempt,omitempty"`
}

// BestRates holds the most favourable quotes for each side of a trade.
type BestRates struct {
	BestBuy    *RateObservation `json:"best_buy"`
	BestSell   *RateObservation `json:"best_sell"`
	LastUpdate *time.Time       `json:"last_update"`
}

// SelectBest returns the highest buy and lowest sell quote. Earlier entries win ties.
func SelectBest(rates []RateObservation) (buy *RateObservation, sell *RateObservation) {
	for i := range rates {
		r := rates[i]
		if buy == nil || r.BuyRate.GreaterThan(buy.BuyRate) {
			buy = &r
		}
		if sell == nil || r.SellRate.LessThan(sell.SellRate) {
			sell = &r
		}
	}
	return buy, sell
}
