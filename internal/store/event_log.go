package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hpcomplexio/mission-control/core/db"
	"github.com/hpcomplexio/mission-control/internal/model"
)

type eventLogStore struct {
	db        *sql.DB
	clock     clockwork.Clock
	retention time.Duration
}

func newEventLogStore(conn *sql.DB, clock clockwork.Clock, retention time.Duration) EventLogStore {
	return &eventLogStore{db: conn, clock: clock, retention: retention}
}

// Insert prunes rows past retention and appends env in one transaction.
func (s *eventLogStore) Insert(ctx context.Context, env model.Envelope) (int64, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encoding envelope: %w", err)
	}

	now := s.clock.Now()
	cutoff := now.Add(-s.retention).UnixMilli()

	var seq int64
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_log WHERE created_at < ?`, cutoff); err != nil {
			return fmt.Errorf("pruning event log: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO event_log (event_id, correlation_id, event_type, agent_id, created_at, envelope_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			env.ID, env.CorrelationID, string(env.Type), toNullString(env.AgentID), now.UnixMilli(), string(body))
		if err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
		seq, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *eventLogStore) ListAfter(ctx context.Context, seq int64, limit int) ([]model.EventLogRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, envelope_json FROM event_log
		WHERE seq > ? ORDER BY seq ASC LIMIT ?`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []model.EventLogRow
	for rows.Next() {
		var (
			row  model.EventLogRow
			body string
		)
		if err := rows.Scan(&row.Seq, &body); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &row.Envelope); err != nil {
			return nil, fmt.Errorf("decoding event %d: %w", row.Seq, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *eventLogStore) SeqForEventID(ctx context.Context, eventID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM event_log WHERE event_id = ? ORDER BY seq ASC LIMIT 1`, eventID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("looking up event id: %w", err)
	}
	return seq, nil
}

func (s *eventLogStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
