// Package hub persists envelopes to the event log and fans them out to live
// stream subscribers, replaying the backlog from a cursor on attach.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/internal/model"
)

const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultReplayBatch       = 500
	DefaultBufferSize        = 256
)

var ErrClosed = errors.New("event hub closed")

// EventLog is the subset of the event log store the hub needs.
type EventLog interface {
	Insert(ctx context.Context, env model.Envelope) (int64, error)
	ListAfter(ctx context.Context, seq int64, limit int) ([]model.EventLogRow, error)
	SeqForEventID(ctx context.Context, eventID string) (int64, error)
}

// Mirror receives every persisted envelope in seq order. Offer must not block.
type Mirror interface {
	Offer(seq int64, env model.Envelope)
}

// Subscriber is a live stream attachment. Frames is closed when the
// subscriber is detached or dropped for falling behind.
type Subscriber struct {
	ch       chan Frame
	id       uint64
	lastSent int64
}

func (s *Subscriber) Frames() <-chan Frame {
	return s.ch
}

type Hub struct {
	mu          sync.Mutex
	log         EventLog
	mirror      Mirror
	clock       clockwork.Clock
	logger      *slog.Logger
	subs        map[uint64]*Subscriber
	stop        chan struct{}
	nextID      uint64
	heartbeat   time.Duration
	replayBatch int
	bufferSize  int
	closed      bool
}

type Option func(*Hub)

func WithMirror(m Mirror) Option {
	return func(h *Hub) {
		h.mirror = m
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) {
		h.clock = clock
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.heartbeat = d
	}
}

func WithReplayBatch(n int) Option {
	return func(h *Hub) {
		h.replayBatch = n
	}
}

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		h.bufferSize = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

func New(log EventLog, opts ...Option) *Hub {
	h := &Hub{
		log:         log,
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
		subs:        make(map[uint64]*Subscriber),
		stop:        make(chan struct{}),
		heartbeat:   DefaultHeartbeatInterval,
		replayBatch: DefaultReplayBatch,
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish persists env and delivers it to every live subscriber. Persisting
// and fan-out happen under one lock so subscribers observe seq order.
// Delivery never blocks: a subscriber whose buffer is full is dropped and
// has to reconnect with its cursor.
func (h *Hub) Publish(ctx context.Context, env model.Envelope) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	seq, err := h.log.Insert(ctx, env)
	if err != nil {
		return 0, fmt.Errorf("persisting envelope: %w", err)
	}

	frame, err := eventFrame(seq, env)
	if err != nil {
		return seq, err
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- frame:
			sub.lastSent = seq
		default:
			h.logger.WarnContext(ctx, "dropping slow stream subscriber",
				"subscriber_id", sub.id,
				"last_sent", sub.lastSent)
			h.removeLocked(sub)
		}
	}

	if h.mirror != nil {
		h.mirror.Offer(seq, env)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Seq:       logger.Ptr(seq),
		EventID:   logger.Ptr(env.ID),
		EventType: logger.Ptr(string(env.Type)),
	})
	h.logger.DebugContext(ctx, "envelope published", "subscribers", len(h.subs))
	return seq, nil
}

// Attach replays every persisted envelope after cursor through replay and
// then registers a live subscriber. cursor is empty, a non-negative seq, or
// an event id (unknown ids replay from the beginning). The frames written
// through replay and then read from Frames form one gap-free, duplicate-free
// ascending sequence.
func (h *Hub) Attach(ctx context.Context, cursor string, replay func(Frame) error) (*Subscriber, error) {
	after, err := h.resolveCursor(ctx, cursor)
	if err != nil {
		return nil, err
	}

	// Backlog pages are replayed without holding the lock.
	for {
		rows, err := h.log.ListAfter(ctx, after, h.replayBatch)
		if err != nil {
			return nil, fmt.Errorf("reading backlog: %w", err)
		}
		for _, row := range rows {
			if err := replayRow(row, replay); err != nil {
				return nil, err
			}
			after = row.Seq
		}
		if len(rows) < h.replayBatch {
			break
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	var tail []model.EventLogRow
	for {
		rows, err := h.log.ListAfter(ctx, after, h.replayBatch)
		if err != nil {
			h.mu.Unlock()
			return nil, fmt.Errorf("reading backlog tail: %w", err)
		}
		tail = append(tail, rows...)
		if len(rows) > 0 {
			after = rows[len(rows)-1].Seq
		}
		if len(rows) < h.replayBatch {
			break
		}
	}
	h.nextID++
	sub := &Subscriber{
		ch:       make(chan Frame, h.bufferSize),
		id:       h.nextID,
		lastSent: after,
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	for _, row := range tail {
		if err := replayRow(row, replay); err != nil {
			h.Detach(sub)
			return nil, err
		}
	}

	h.logger.DebugContext(ctx, "stream subscriber attached", "subscriber_id", sub.id, "cursor", after)
	return sub, nil
}

func replayRow(row model.EventLogRow, replay func(Frame) error) error {
	frame, err := rowFrame(row)
	if err != nil {
		return err
	}
	return replay(frame)
}

func (h *Hub) resolveCursor(ctx context.Context, cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(cursor, 10, 64); err == nil && n >= 0 {
		return n, nil
	}
	seq, err := h.log.SeqForEventID(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("resolving cursor: %w", err)
	}
	return seq, nil
}

// Detach removes sub. It is safe to call more than once.
func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Run sends heartbeats until ctx is done or the hub is closed.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.Chan():
			h.sendHeartbeat()
		}
	}
}

// sendHeartbeat skips subscribers whose buffer is full; the next event
// frame decides whether they are dropped.
func (h *Hub) sendHeartbeat() {
	frame := heartbeatFrame(h.clock.Now())

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- frame:
		default:
		}
	}
}

// Close stops the heartbeat and detaches every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.stop)
	for _, sub := range h.subs {
		h.removeLocked(sub)
	}
}
