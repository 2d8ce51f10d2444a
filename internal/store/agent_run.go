package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/hpcomplexio/mission-control/internal/model"
)

const agentRunColumns = `agent_id, task, status, repo_path, branch, priority, correlation_id,
	metadata_json, started_at, ended_at`

type agentRunStore struct {
	db    *sql.DB
	clock clockwork.Clock
}

func newAgentRunStore(conn *sql.DB, clock clockwork.Clock) AgentRunStore {
	return &agentRunStore{db: conn, clock: clock}
}

// Upsert inserts the run or updates its mutable fields (status, metadata,
// branch, priority, ended_at). started_at is set on insert; ended_at is set
// the first time the run reaches a terminal status.
func (s *agentRunStore) Upsert(ctx context.Context, run *model.AgentRun) (*model.AgentRun, error) {
	metadata, err := encodeObject(run.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding agent metadata: %w", err)
	}
	priority := run.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	now := s.clock.Now().UnixMilli()
	var endedAt sql.NullInt64
	if run.Status.Terminal() {
		endedAt = sql.NullInt64{Int64: now, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO agent_runs (agent_id, task, status, repo_path, branch, priority, correlation_id,
			metadata_json, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			status = excluded.status,
			metadata_json = excluded.metadata_json,
			branch = excluded.branch,
			priority = excluded.priority,
			ended_at = CASE
				WHEN excluded.ended_at IS NULL THEN NULL
				ELSE COALESCE(agent_runs.ended_at, excluded.ended_at)
			END
		RETURNING `+agentRunColumns,
		run.AgentID, run.Task, string(run.Status), run.RepoPath, run.Branch, string(priority),
		run.CorrelationID, metadata, now, endedAt)
	out, err := scanAgentRun(row)
	if err != nil {
		return nil, fmt.Errorf("upserting agent run: %w", err)
	}
	return out, nil
}

func (s *agentRunStore) Get(ctx context.Context, agentID string) (*model.AgentRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentRunColumns+` FROM agent_runs WHERE agent_id = ?`, agentID)
	out, err := scanAgentRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent run: %w", err)
	}
	return out, nil
}

func (s *agentRunStore) List(ctx context.Context) ([]model.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentRunColumns+` FROM agent_runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing agent runs: %w", err)
	}
	defer rows.Close()

	out := []model.AgentRun{}
	for rows.Next() {
		run, err := scanAgentRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanAgentRun(r rowScanner) (*model.AgentRun, error) {
	var (
		run              model.AgentRun
		status, priority string
		metadata         string
		startedAt        int64
		endedAt          sql.NullInt64
	)
	if err := r.Scan(&run.AgentID, &run.Task, &status, &run.RepoPath, &run.Branch, &priority,
		&run.CorrelationID, &metadata, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	m, err := decodeObject(metadata)
	if err != nil {
		return nil, fmt.Errorf("decoding agent metadata: %w", err)
	}
	run.Status = model.AgentStatus(status)
	run.Priority = model.Priority(priority)
	run.Metadata = m
	run.StartedAt = fromMillis(startedAt)
	run.EndedAt = nullMillis(endedAt)
	return &run, nil
}
