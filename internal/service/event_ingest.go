package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/store"
)

// IdempotencyTTL is how long a cached ingestion response is replayed.
const IdempotencyTTL = 10 * time.Minute

var ErrMalformedJSON = errors.New("malformed json")

// ValidationError lists every contract violation of a rejected envelope.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + strings.Join(e.Details, "; ")
}

type IngestResult struct {
	Accepted bool   `json:"accepted"`
	Deduped  bool   `json:"deduped"`
	EventID  string `json:"eventId"`
	StreamID int64  `json:"streamId"`
}

// EnvelopeValidator checks raw JSON against the event contract.
type EnvelopeValidator interface {
	ValidateJSON(data []byte) (contract.Result, map[string]any, error)
}

// Publisher mirrors hub.Hub - defined here to avoid import cycles.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) (int64, error)
}

type EventIngestService interface {
	Ingest(ctx context.Context, key string, body []byte) (*IngestResult, error)
}

type eventIngestService struct {
	idempotency store.IdempotencyStore
	validator   EnvelopeValidator
	publisher   Publisher
	logger      *slog.Logger

	// mu serializes check-then-publish so one key is published once.
	mu sync.Mutex
}

func NewEventIngestService(idempotency store.IdempotencyStore, validator EnvelopeValidator, publisher Publisher, logger *slog.Logger) EventIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventIngestService{
		idempotency: idempotency,
		validator:   validator,
		publisher:   publisher,
		logger:      logger,
	}
}

func (s *eventIngestService) Ingest(ctx context.Context, key string, body []byte) (*IngestResult, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mission-control.ingest"})

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.idempotency.Prune(ctx, IdempotencyTTL); err != nil {
		return nil, fmt.Errorf("pruning idempotency keys: %w", err)
	}

	cached, err := s.idempotency.Get(ctx, key)
	switch {
	case err == nil:
		var res IngestResult
		if err := json.Unmarshal(cached, &res); err != nil {
			return nil, fmt.Errorf("decoding cached response: %w", err)
		}
		res.Accepted = true
		res.Deduped = true
		s.logger.InfoContext(ctx, "duplicate ingestion replayed",
			"event_id", res.EventID,
			"seq", res.StreamID)
		return &res, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("reading idempotency key: %w", err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	result, _, err := s.validator.ValidateJSON(body)
	if err != nil {
		if errors.Is(err, contract.ErrMalformed) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		return nil, fmt.Errorf("validating envelope: %w", err)
	}
	if !result.Valid {
		s.logger.WarnContext(ctx, "envelope rejected", "details", result.Errors)
		return nil, &ValidationError{Details: result.Errors}
	}

	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	seq, err := s.publisher.Publish(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("publishing envelope: %w", err)
	}

	res := &IngestResult{Accepted: true, EventID: env.ID, StreamID: seq}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	if err := s.idempotency.Save(ctx, key, raw); err != nil {
		// The envelope is already in the log; a retry will publish it again.
		s.logger.ErrorContext(ctx, "failed to cache ingestion response", "error", err, "event_id", env.ID)
	}

	s.logger.InfoContext(ctx, "envelope ingested",
		"event_id", env.ID,
		"event_type", env.Type,
		"source", env.Source,
		"seq", seq)
	return res, nil
}
