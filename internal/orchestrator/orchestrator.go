package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/worker"
)

var (
	ErrDecisionNotFound = errors.New("decision not found")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrInvalidSpawn     = errors.New("task and repoPath are required")
	ErrClosed           = errors.New("orchestrator closed")
)

// Publisher appends an envelope to the durable log and fans it out.
// Mirrors hub.Hub - defined here to avoid import cycles.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) (int64, error)
}

type AgentRuns interface {
	Upsert(ctx context.Context, run *model.AgentRun) (*model.AgentRun, error)
}

type Decisions interface {
	Create(ctx context.Context, d *model.Decision) (*model.Decision, error)
	Resolve(ctx context.Context, id, resolution, actor string, notes *string) (*model.Decision, error)
}

type Healer interface {
	ForwardBuildFailed(ctx context.Context, env model.Envelope) (json.RawMessage, error)
}

type Config struct {
	BuildTimeout        time.Duration
	Debounce            time.Duration
	StallThreshold      time.Duration
	StallSweepInterval  time.Duration
	FlapWindow          time.Duration
	FlapThreshold       int
	DefaultBuildCommand string
	DefaultTestCommand  string
}

func DefaultConfig() Config {
	return Config{
		BuildTimeout:        10 * time.Minute,
		Debounce:            250 * time.Millisecond,
		StallThreshold:      15 * time.Minute,
		StallSweepInterval:  60 * time.Second,
		FlapWindow:          30 * time.Minute,
		FlapThreshold:       3,
		DefaultBuildCommand: "npm run build",
		DefaultTestCommand:  "npm run test --if-present",
	}
}

// Orchestrator owns every agent's in-memory state: the build gate, pause
// flag, failure windows, watch and debounce timer. Persistence and the event
// log are reached only through the injected collaborators.
type Orchestrator struct {
	publisher Publisher
	runs      AgentRuns
	decisions Decisions
	healer    Healer
	runner    worker.CommandRunner
	watcher   worker.Watcher
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       Config

	// ctx outlives requests; background pipelines and healer calls use it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	agents    map[string]*agentState
	closed    bool
	persistMu sync.Mutex

	wg     sync.WaitGroup
	stopCh chan struct{}
}

type Option func(*Orchestrator)

func WithClock(clock clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

func New(publisher Publisher, runs AgentRuns, decisions Decisions, healer Healer, runner worker.CommandRunner, watcher worker.Watcher, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		publisher: publisher,
		runs:      runs,
		decisions: decisions,
		healer:    healer,
		runner:    runner,
		watcher:   watcher,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		cfg:       DefaultConfig(),
		ctx:       ctx,
		cancel:    cancel,
		agents:    make(map[string]*agentState),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.FlapThreshold <= 0 {
		o.cfg.FlapThreshold = 3
	}
	if o.cfg.FlapWindow <= 0 {
		o.cfg.FlapWindow = 30 * time.Minute
	}
	return o
}

// Run sweeps for stalled agents every StallSweepInterval until ctx is done
// or Close is called.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := o.clock.NewTicker(o.cfg.StallSweepInterval)
	defer ticker.Stop()

	o.logger.InfoContext(ctx, "orchestrator started",
		"stall_threshold", o.cfg.StallThreshold,
		"sweep_interval", o.cfg.StallSweepInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.Chan():
			if n := o.SweepStalled(ctx); n > 0 {
				o.logger.WarnContext(ctx, "stalled agents paused", "count", n)
			}
		}
	}
}

// Close stops timers and watches, cancels in-flight commands and waits for
// background work to finish. Persisted rows are untouched.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	var watches []worker.Watch
	for _, st := range o.agents {
		if w := st.release(); w != nil {
			watches = append(watches, w)
		}
	}
	o.agents = make(map[string]*agentState)
	o.mu.Unlock()

	close(o.stopCh)
	o.cancel()
	for _, w := range watches {
		if err := w.Close(); err != nil {
			o.logger.Warn("closing watch failed", "error", err)
		}
	}
	o.wg.Wait()
}

// Snapshot returns a copy of the agent's in-memory state.
func (o *Orchestrator) Snapshot(agentID string) (AgentSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.agents[agentID]
	if !ok {
		return AgentSnapshot{}, false
	}
	return st.snapshot(), true
}

// ActiveAgents counts known agents that have not reached a terminal status.
func (o *Orchestrator) ActiveAgents() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, st := range o.agents {
		if !st.terminal() {
			n++
		}
	}
	return n
}

// touch refreshes the agent's activity timestamp.
func (o *Orchestrator) touch(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.agents[agentID]; ok {
		st.lastActivityAt = o.clock.Now()
	}
}

// setStatus updates the in-memory status and persists the run. Writes are
// serialized so the stored row follows the in-memory order.
func (o *Orchestrator) setStatus(ctx context.Context, agentID string, status model.AgentStatus) {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	o.mu.Lock()
	st, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return
	}
	st.run.Status = status
	run := st.run
	o.mu.Unlock()

	if _, err := o.runs.Upsert(ctx, &run); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist agent status",
			"error", err,
			"status", status)
	}
}

// terminate marks the agent with a terminal status and releases its watch
// and timer.
func (o *Orchestrator) terminate(ctx context.Context, agentID string, status model.AgentStatus) {
	o.setStatus(ctx, agentID, status)

	o.mu.Lock()
	st, ok := o.agents[agentID]
	var w worker.Watch
	if ok {
		w = st.release()
	}
	o.mu.Unlock()

	if w != nil {
		if err := w.Close(); err != nil {
			o.logger.WarnContext(ctx, "closing watch failed", "error", err)
		}
	}
}
