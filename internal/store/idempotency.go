package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type idempotencyStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

func newIdempotencyStore(conn *sql.DB, clock clockwork.Clock) IdempotencyStore {
	return &idempotencyStore{db: conn, clock: clock}
}

func (s *idempotencyStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT response_json FROM idempotency_keys WHERE idem_key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading idempotency key: %w", err)
	}
	return json.RawMessage(body), nil
}

func (s *idempotencyStore) Save(ctx context.Context, key string, response json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO idempotency_keys (idem_key, response_json, created_at)
		VALUES (?, ?, ?)`, key, string(response), s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving idempotency key: %w", err)
	}
	return nil
}

func (s *idempotencyStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
