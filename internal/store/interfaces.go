package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hpcomplexio/mission-control/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// EventLogStore is the append-only envelope log. Seq is assigned on insert
// and strictly increases.
type EventLogStore interface {
	Insert(ctx context.Context, env model.Envelope) (int64, error)
	ListAfter(ctx context.Context, seq int64, limit int) ([]model.EventLogRow, error)
	// SeqForEventID returns 0 when no row carries the event id.
	SeqForEventID(ctx context.Context, eventID string) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// IdempotencyStore caches ingestion responses by Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Save(ctx context.Context, key string, response json.RawMessage) error
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// DecisionStore persists operator decisions. A decision moves from pending
// to resolved exactly once.
type DecisionStore interface {
	Create(ctx context.Context, d *model.Decision) (*model.Decision, error)
	Resolve(ctx context.Context, id, resolution, actor string, notes *string) (*model.Decision, error)
	Get(ctx context.Context, id string) (*model.Decision, error)
	List(ctx context.Context, status *model.DecisionStatus) ([]model.Decision, error)
}

// AgentRunStore persists agent runs keyed by agent id.
type AgentRunStore interface {
	Upsert(ctx context.Context, run *model.AgentRun) (*model.AgentRun, error)
	Get(ctx context.Context, agentID string) (*model.AgentRun, error)
	List(ctx context.Context) ([]model.AgentRun, error)
}
