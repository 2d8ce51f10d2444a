package store

import (
	"database/sql"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultRetention is how long event log rows are kept.
const DefaultRetention = 7 * 24 * time.Hour

type Stores struct {
	db        *sql.DB
	clock     clockwork.Clock
	retention time.Duration
}

type Option func(*Stores)

// WithClock overrides the clock used for store-assigned timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Stores) {
		s.clock = clock
	}
}

func WithRetention(d time.Duration) Option {
	return func(s *Stores) {
		s.retention = d
	}
}

func NewStores(db *sql.DB, opts ...Option) *Stores {
	s := &Stores{
		db:        db,
		clock:     clockwork.NewRealClock(),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stores) EventLogs() EventLogStore {
	return newEventLogStore(s.db, s.clock, s.retention)
}

func (s *Stores) Idempotency() IdempotencyStore {
	return newIdempotencyStore(s.db, s.clock)
}

func (s *Stores) Decisions() DecisionStore {
	return newDecisionStore(s.db, s.clock)
}

func (s *Stores) AgentRuns() AgentRunStore {
	return newAgentRunStore(s.db, s.clock)
}
