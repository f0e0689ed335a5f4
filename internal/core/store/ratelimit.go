package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cambiowatch/cambiowatch/internal/core"
)

// GetQuota returns stored quota state for a key.
func (s *Store) GetQuota(ctx context.Context, key string) (*core.QuotaState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("quota key is required")
	}

	var (
		count        int
		windowStart  int64
		blockedUntil sql.NullInt64
	)

	row := s.DB.QueryRowContext(ctx, s.rebind(`
		SELECT request_count, window_start, blocked_until
		FROM api_quotas
		WHERE quota_key = ?
	`), key)

	if err := row.Scan(&count, &windowStart, &blockedUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch quota: %w", err)
	}

	state := &core.QuotaState{
		Count:       count,
		WindowStart: time.Unix(windowStart, 0).UTC(),
	}
	if blockedUntil.Valid {
		value := time.Unix(blockedUntil.Int64, 0).UTC()
		state.BlockedUntil = &value
	}

	return state, nil
}

// UpdateQuota persists quota state for a key.
func (s *Store) UpdateQuota(ctx context.Context, key string, state *core.QuotaState) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("quota key is required")
	}
	if state == nil {
		return errors.New("quota state is required")
	}

	var blockedUntil sql.NullInt64
	if state.BlockedUntil != nil {
		blockedUntil = sql.NullInt64{Int64: state.BlockedUntil.UTC().Unix(), Valid: true}
	}

	_, err = s.DB.ExecContext(ctx, s.rebind(`
		INSERT INTO api_quotas (quota_key, request_count, window_start, blocked_until)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(quota_key) DO UPDATE SET
			request_count = excluded.request_count,
			window_start = excluded.window_start,
			blocked_until = excluded.blocked_until
	`), key, state.Count, state.WindowStart.UTC().Unix(), blockedUntil)
	if err != nil {
		return fmt.Errorf("store quota: %w", err)
	}

	return nil
}

// ResetQuotas clears quota state; an empty key clears every key.
func (s *Store) ResetQuotas(ctx context.Context, key string) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	var res sql.Result
	if key = strings.TrimSpace(key); key == "" {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM api_quotas`)
	} else {
		res, err = s.DB.ExecContext(ctx, s.rebind(`DELETE FROM api_quotas WHERE quota_key = ?`), key)
	}
	if err != nil {
		return 0, fmt.Errorf("reset quotas: %w", err)
	}
	return res.RowsAffected()
}
