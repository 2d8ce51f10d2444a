// Package queue mirrors the durable event log onto a Redis stream so other
// processes can tail it without holding an SSE connection.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hpcomplexio/mission-control/internal/model"
)

const (
	DefaultMirrorBuffer = 1024
	DefaultStreamMaxLen = 100_000
	writeTimeout        = 5 * time.Second
)

// StreamClient is the subset of *redis.Client the mirror uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type mirrorItem struct {
	env model.Envelope
	seq int64
}

// RedisMirror appends envelopes to a Redis stream from a single background
// goroutine, so stream order matches the order of Offer calls.
type RedisMirror struct {
	client StreamClient
	logger *slog.Logger
	items  chan mirrorItem
	done   chan struct{}
	stream string
	maxLen int64

	mu     sync.RWMutex
	closed bool
}

type MirrorOption func(*RedisMirror)

func WithBuffer(n int) MirrorOption {
	return func(m *RedisMirror) {
		m.items = make(chan mirrorItem, n)
	}
}

// WithMaxLen caps the stream approximately (XADD MAXLEN ~).
func WithMaxLen(n int64) MirrorOption {
	return func(m *RedisMirror) {
		m.maxLen = n
	}
}

func NewRedisMirror(client StreamClient, stream string, logger *slog.Logger, opts ...MirrorOption) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &RedisMirror{
		client: client,
		logger: logger,
		items:  make(chan mirrorItem, DefaultMirrorBuffer),
		done:   make(chan struct{}),
		stream: stream,
		maxLen: DefaultStreamMaxLen,
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// Offer queues env for the stream. It never blocks: when the buffer is full
// the envelope is dropped from the mirror (the event log still has it).
func (m *RedisMirror) Offer(seq int64, env model.Envelope) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.items <- mirrorItem{seq: seq, env: env}:
	default:
		m.logger.Warn("event mirror buffer full, dropping envelope",
			"seq", seq,
			"event_id", env.ID,
			"stream", m.stream)
	}
}

func (m *RedisMirror) run() {
	defer close(m.done)
	for item := range m.items {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := m.append(ctx, item); err != nil {
			m.logger.WarnContext(ctx, "event mirror append failed",
				"seq", item.seq,
				"event_id", item.env.ID,
				"error", err)
		}
		cancel()
	}
}

func (m *RedisMirror) append(ctx context.Context, item mirrorItem) error {
	body, err := json.Marshal(item.env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	fields := map[string]any{
		"seq":            item.seq,
		"event_id":       item.env.ID,
		"event_type":     string(item.env.Type),
		"correlation_id": item.env.CorrelationID,
		"envelope":       string(body),
	}
	if agentID := item.env.AgentIDValue(); agentID != "" {
		fields["agent_id"] = agentID
	}

	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", m.stream, err)
	}
	return nil
}

// Close drains queued envelopes and closes the Redis client.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.items)
	m.mu.Unlock()

	<-m.done
	return m.client.Close()
}
