package orchestrator

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/worker"
)

// buildGate serializes builds per agent: at most one runs and at most one
// more is queued behind it.
type buildGate int

const (
	gateIdle buildGate = iota
	gatePending
	gateRunning
	gateRunningQueued
)

func (g buildGate) String() string {
	switch g {
	case gatePending:
		return "pending"
	case gateRunning:
		return "running"
	case gateRunningQueued:
		return "running+queued"
	}
	return "idle"
}

type agentState struct {
	lastActivityAt time.Time
	debounce       clockwork.Timer
	watch          worker.Watch
	failures       map[string][]time.Time
	buildCommand   string
	testCommand    string
	run            model.AgentRun
	gate           buildGate
	paused         bool
	watchFailed    bool
}

// AgentSnapshot is a point-in-time copy of an agent's in-memory state.
type AgentSnapshot struct {
	LastActivityAt time.Time
	AgentID        string
	Status         model.AgentStatus
	Gate           string
	BuildCommand   string
	TestCommand    string
	Paused         bool
	Watching       bool
}

func (st *agentState) snapshot() AgentSnapshot {
	return AgentSnapshot{
		LastActivityAt: st.lastActivityAt,
		AgentID:        st.run.AgentID,
		Status:         st.run.Status,
		Gate:           st.gate.String(),
		BuildCommand:   st.buildCommand,
		TestCommand:    st.testCommand,
		Paused:         st.paused,
		Watching:       st.watch != nil,
	}
}

func (st *agentState) terminal() bool {
	return st.run.Status.Terminal()
}

// recordFailure appends now to the signature's window, drops entries older
// than window and returns how many remain.
func (st *agentState) recordFailure(signature string, now time.Time, window time.Duration) int {
	kept := st.failures[signature][:0]
	for _, at := range st.failures[signature] {
		if now.Sub(at) < window {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	st.failures[signature] = kept
	return len(kept)
}

// release stops the agent's timer and watch. The caller holds the
// orchestrator lock; the returned watch must be closed after unlocking.
func (st *agentState) release() worker.Watch {
	if st.debounce != nil {
		st.debounce.Stop()
		st.debounce = nil
	}
	if st.gate == gatePending {
		st.gate = gateIdle
	}
	w := st.watch
	st.watch = nil
	return w
}
