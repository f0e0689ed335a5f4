package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

const ratePlaces = 4

// SaveObservations inserts batch in a single transaction. Observations with
// non-positive rates are skipped; the count of inserted rows is returned.
func (s *Store) SaveObservations(ctx context.Context, batch []core.RateObservation) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rate batch: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO exchange_rates (provider_name, buy_rate, sell_rate, spread, observed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return 0, fmt.Errorf("prepare rate insert: %w", err)
	}
	defer stmt.Close() // nolint:errcheck // closed with the tx

	now := time.Now().UTC().Unix()
	inserted := 0
	for _, obs := range batch {
		if !obs.BuyRate.IsPositive() || !obs.SellRate.IsPositive() || obs.Provider == "" {
			continue
		}
		observed := obs.ObservedAt
		if observed.IsZero() {
			observed = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			string(obs.Provider),
			obs.BuyRate.InexactFloat64(),
			obs.SellRate.InexactFloat64(),
			obs.Spread().InexactFloat64(),
			observed.UTC().Unix(),
			now,
		); err != nil {
			return 0, fmt.Errorf("insert rate for %s: %w", obs.Provider, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rate batch: %w", err)
	}
	return inserted, nil
}

// LatestPerProvider returns the newest stored rate of every provider, ordered
// by provider.
func (s *Store) LatestPerProvider(ctx context.Context) ([]core.RateObservation, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		WITH ranked AS (
			SELECT provider_name, buy_rate, sell_rate, observed_at,
				ROW_NUMBER() OVER (PARTITION BY provider_name ORDER BY observed_at DESC, id DESC) AS rn
			FROM exchange_rates
		)
		SELECT provider_name, buy_rate, sell_rate, observed_at
		FROM ranked
		WHERE rn = 1
		ORDER BY provider_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query latest rates: %w", err)
	}
	return scanObservations(rows)
}

// History returns a provider's rates observed since since, oldest first.
func (s *Store) History(ctx context.Context, provider core.Provider, since time.Time) ([]core.RateObservation, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(`
		SELECT provider_name, buy_rate, sell_rate, observed_at
		FROM exchange_rates
		WHERE provider_name = ? AND observed_at >= ?
		ORDER BY observed_at ASC, id ASC
	`), string(provider), since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query rate history: %w", err)
	}
	return scanObservations(rows)
}

// Stats aggregates a provider's rates since since. It returns nil when the
// provider has no rows in the period.
func (s *Store) Stats(ctx context.Context, provider core.Provider, since time.Time) (*core.ProviderStats, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	var (
		minBuy, maxBuy, avgBuy          sql.NullFloat64
		minSell, maxSell, avgSell       sql.NullFloat64
		minSpread, maxSpread, avgSpread sql.NullFloat64
		total                           int64
	)
	row := s.DB.QueryRowContext(ctx, s.rebind(`
		SELECT
			MIN(buy_rate), MAX(buy_rate), AVG(buy_rate),
			MIN(sell_rate), MAX(sell_rate), AVG(sell_rate),
			MIN(spread), MAX(spread), AVG(spread),
			COUNT(*)
		FROM exchange_rates
		WHERE provider_name = ? AND observed_at >= ?
	`), string(provider), since.UTC().Unix())
	if err := row.Scan(&minBuy, &maxBuy, &avgBuy, &minSell, &maxSell, &avgSell,
		&minSpread, &maxSpread, &avgSpread, &total); err != nil {
		return nil, fmt.Errorf("query provider stats: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	return &core.ProviderStats{
		Provider:     provider,
		MinBuy:       toDecimal(minBuy.Float64),
		MaxBuy:       toDecimal(maxBuy.Float64),
		AvgBuy:       toDecimal(avgBuy.Float64),
		MinSell:      toDecimal(minSell.Float64),
		MaxSell:      toDecimal(maxSell.Float64),
		AvgSell:      toDecimal(avgSell.Float64),
		MinSpread:    toDecimal(minSpread.Float64),
		MaxSpread:    toDecimal(maxSpread.Float64),
		AvgSpread:    toDecimal(avgSpread.Float64),
		TotalRecords: int(total),
	}, nil
}

// BestInPeriod returns the highest buy and lowest sell stored since since.
func (s *Store) BestInPeriod(ctx context.Context, since time.Time) (*core.RateObservation, *core.RateObservation, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, nil, err
	}

	pick := func(order string) (*core.RateObservation, error) {
		rows, err := s.DB.QueryContext(ctx, s.rebind(`
			SELECT provider_name, buy_rate, sell_rate, observed_at
			FROM exchange_rates
			WHERE observed_at >= ?
			ORDER BY `+order+`, observed_at DESC
			LIMIT 1
		`), since.UTC().Unix())
		if err != nil {
			return nil, fmt.Errorf("query best rate: %w", err)
		}
		list, err := scanObservations(rows)
		if err != nil || len(list) == 0 {
			return nil, err
		}
		return &list[0], nil
	}

	buy, err := pick("buy_rate DESC")
	if err != nil {
		return nil, nil, err
	}
	sell, err := pick("sell_rate ASC")
	if err != nil {
		return nil, nil, err
	}
	return buy, sell, nil
}

// Trend aggregates all providers into buckets of width bucket since since.
func (s *Store) Trend(ctx context.Context, since time.Time, bucket time.Duration) ([]core.TrendPoint, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	width := int64(bucket / time.Second)
	if width <= 0 {
		width = int64(time.Hour / time.Second)
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(`
		SELECT
			(observed_at - (observed_at % ?)) AS bucket,
			AVG(buy_rate), AVG(sell_rate),
			MIN(buy_rate), MAX(buy_rate),
			MIN(sell_rate), MAX(sell_rate),
			COUNT(DISTINCT provider_name)
		FROM exchange_rates
		WHERE observed_at >= ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`), width, since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	points := make([]core.TrendPoint, 0)
	for rows.Next() {
		var (
			start                                             int64
			avgBuy, avgSell, minBuy, maxBuy, minSell, maxSell float64
			providers                                         int64
		)
		if err := rows.Scan(&start, &avgBuy, &avgSell, &minBuy, &maxBuy, &minSell, &maxSell, &providers); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		points = append(points, core.TrendPoint{
			Bucket:        time.Unix(start, 0).UTC(),
			AvgBuy:        toDecimal(avgBuy),
			AvgSell:       toDecimal(avgSell),
			MinBuy:        toDecimal(minBuy),
			MaxBuy:        toDecimal(maxBuy),
			MinSell:       toDecimal(minSell),
			MaxSell:       toDecimal(maxSell),
			ProviderCount: int(providers),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan trend: %w", err)
	}
	return points, nil
}

// Providers lists the provider keys present in the history table.
func (s *Store) Providers(ctx context.Context) ([]string, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT provider_name FROM exchange_rates ORDER BY provider_name`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// CleanOlderThan deletes rates observed before cutoff.
func (s *Store) CleanOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ctx, s.rebind(`DELETE FROM exchange_rates WHERE observed_at < ?`), cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("clean old rates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clean old rates: %w", err)
	}
	return n, nil
}

// TableStats summarizes the history table.
func (s *Store) TableStats(ctx context.Context) (core.StoreStats, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return core.StoreStats{}, err
	}

	var (
		total, providers int64
		oldest, newest   sql.NullInt64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT provider_name), MIN(observed_at), MAX(observed_at)
		FROM exchange_rates
	`)
	if err := row.Scan(&total, &providers, &oldest, &newest); err != nil {
		return core.StoreStats{}, fmt.Errorf("query store stats: %w", err)
	}

	stats := core.StoreStats{TotalRecords: int(total), TotalProviders: int(providers)}
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0).UTC()
		stats.OldestRecord = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0).UTC()
		stats.NewestRecord = &t
	}
	return stats, nil
}

func scanObservations(rows *sql.Rows) ([]core.RateObservation, error) {
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	out := make([]core.RateObservation, 0)
	for rows.Next() {
		var (
			provider  string
			buy, sell float64
			observed  int64
		)
		if err := rows.Scan(&provider, &buy, &sell, &observed); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		out = append(out, core.RateObservation{
			Provider:   core.Provider(provider),
			BuyRate:    toDecimal(buy),
			SellRate:   toDecimal(sell),
			ObservedAt: time.Unix(observed, 0).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(errors.New("scan rates"), err)
	}
	return out, nil
}

func toDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(ratePlaces)
}
