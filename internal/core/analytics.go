package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderStats aggregates one provider's rates over a period.
type ProviderStats struct {
	Provider     Provider        `json:"provider"`
	MinBuy       decimal.Decimal `json:"min_buy"`
	MaxBuy       decimal.Decimal `json:"max_buy"`
	AvgBuy       decimal.Decimal `json:"avg_buy"`
	MinSell      decimal.Decimal `json:"min_sell"`
	MaxSell      decimal.Decimal `json:"max_sell"`
	AvgSell      decimal.Decimal `json:"avg_sell"`
	MinSpread    decimal.Decimal `json:"min_spread"`
	MaxSpread    decimal.Decimal `json:"max_spread"`
	AvgSpread    decimal.Decimal `json:"avg_spread"`
	TotalRecords int             `json:"total_records"`
}

// TrendPoint is the market-wide aggregate of one time bucket.
type TrendPoint struct {
	Bucket        time.Time       `json:"bucket"`
	AvgBuy        decimal.Decimal `json:"avg_buy"`
	AvgSell       decimal.Decimal `json:"avg_sell"`
	MinBuy        decimal.Decimal `json:"min_buy"`
	MaxBuy        decimal.Decimal `json:"max_buy"`
	MinSell       decimal.Decimal `json:"min_sell"`
	MaxSell       decimal.Decimal `json:"max_sell"`
	ProviderCount int             `json:"provider_count"`
}

// StoreStats summarizes the rate history table.
type StoreStats struct {
	TotalRecords   int        `json:"total_records"`
	TotalProviders int        `json:"total_providers"`
	OldestRecord   *time.Time `json:"oldest_record"`
	NewestRecord   *time.Time `json:"newest_record"`
}

// PeriodBest is the best stored quote on each side within a lookback window.
type PeriodBest struct {
	Hours    int              `json:"hours"`
	BestBuy  *RateObservation `json:"best_buy"`
	BestSell *RateObservation `json:"best_sell"`
}
