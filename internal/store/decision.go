package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/hpcomplexio/mission-control/internal/model"
)

const decisionColumns = `id, correlation_id, agent_id, status, reason_code, resolution, actor, notes,
	payload_json, created_at, updated_at, resolved_at`

type decisionStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

func newDecisionStore(conn *sql.DB, clock clockwork.Clock) DecisionStore {
	return &decisionStore{db: conn, clock: clock}
}

// Create always stores the decision as pending.
func (s *decisionStore) Create(ctx context.Context, d *model.Decision) (*model.Decision, error) {
	payload, err := encodeObject(d.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding decision payload: %w", err)
	}
	now := s.clock.Now().UnixMilli()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO decisions (id, correlation_id, agent_id, status, reason_code, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+decisionColumns,
		d.ID, d.CorrelationID, toNullString(d.AgentID), string(model.DecisionStatusPending),
		string(d.ReasonCode), payload, now, now)
	out, err := scanDecision(row)
	if err != nil {
		return nil, fmt.Errorf("creating decision: %w", err)
	}
	return out, nil
}

// Resolve returns ErrNotFound when id does not name a pending decision.
func (s *decisionStore) Resolve(ctx context.Context, id, resolution, actor string, notes *string) (*model.Decision, error) {
	now := s.clock.Now().UnixMilli()
	row := s.db.QueryRowContext(ctx, `
		UPDATE decisions
		SET status = ?, resolution = ?, actor = ?, notes = ?, updated_at = ?, resolved_at = ?
		WHERE id = ? AND status = ?
		RETURNING `+decisionColumns,
		string(model.DecisionStatusResolved), resolution, actor, toNullString(notes), now, now,
		id, string(model.DecisionStatusPending))
	out, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving decision: %w", err)
	}
	return out, nil
}

func (s *decisionStore) Get(ctx context.Context, id string) (*model.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)
	out, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting decision: %w", err)
	}
	return out, nil
}

func (s *decisionStore) List(ctx context.Context, status *model.DecisionStatus) ([]model.Decision, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + decisionColumns + ` FROM decisions`)
	if status != nil {
		query.WriteString(` WHERE status = ?`)
		args = append(args, string(*status))
	}
	query.WriteString(` ORDER BY created_at DESC, rowid DESC`)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	defer rows.Close()

	out := []model.Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(r rowScanner) (*model.Decision, error) {
	var (
		d                       model.Decision
		agentID, resolution     sql.NullString
		actor, notes            sql.NullString
		status, reason, payload string
		createdAt, updatedAt    int64
		resolvedAt              sql.NullInt64
	)
	if err := r.Scan(&d.ID, &d.CorrelationID, &agentID, &status, &reason, &resolution, &actor, &notes,
		&payload, &createdAt, &updatedAt, &resolvedAt); err != nil {
		return nil, err
	}

	p, err := decodeObject(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding decision payload: %w", err)
	}

	d.AgentID = nullString(agentID)
	d.Resolution = nullString(resolution)
	d.Actor = nullString(actor)
	d.Notes = nullString(notes)
	d.Status = model.DecisionStatus(status)
	d.ReasonCode = model.ReasonCode(reason)
	d.Payload = p
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	d.ResolvedAt = nullMillis(resolvedAt)
	return &d, nil
}
