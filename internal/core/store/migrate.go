package store

import (
	"context"
	"fmt"
)

var libsqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS exchange_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_name TEXT NOT NULL,
		buy_rate REAL NOT NULL,
		sell_rate REAL NOT NULL,
		spread REAL NOT NULL,
		observed_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS api_quotas (
		quota_key TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		window_start INTEGER NOT NULL,
		blocked_until INTEGER
	);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS exchange_rates (
		id BIGSERIAL PRIMARY KEY,
		provider_name TEXT NOT NULL,
		buy_rate DOUBLE PRECISION NOT NULL,
		sell_rate DOUBLE PRECISION NOT NULL,
		spread DOUBLE PRECISION NOT NULL,
		observed_at BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS api_quotas (
		quota_key TEXT PRIMARY KEY,
		request_count INTEGER NOT NULL DEFAULT 0,
		window_start BIGINT NOT NULL,
		blocked_until BIGINT
	);`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_exchange_rates_observed ON exchange_rates(observed_at);`,
	`CREATE INDEX IF NOT EXISTS idx_exchange_rates_provider ON exchange_rates(provider_name);`,
	`CREATE INDEX IF NOT EXISTS idx_exchange_rates_provider_observed ON exchange_rates(provider_name, observed_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	schema := libsqlSchema
	if s.driver == driverPostgres {
		schema = postgresSchema
	}

	for _, stmt := range append(append([]string{}, schema...), indexStatements...) {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
