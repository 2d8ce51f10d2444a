// Package healer forwards build failures to the external self-healing
// service behind a circuit breaker.
package healer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/common/resiliency"
	"github.com/hpcomplexio/mission-control/internal/model"
)

var ErrCircuitOpen = resiliency.ErrCircuitOpen

// Ack is the healer's response body. Its shape belongs to the healer, so it
// is kept as raw JSON.
type Ack = json.RawMessage

type Poster interface {
	PostJSON(ctx context.Context, url string, body any, headers map[string]string) (json.RawMessage, error)
}

type Breaker interface {
	CanRequest() bool
	MarkSuccess()
	MarkFailure()
	Name() string
}

type Client struct {
	poster  Poster
	breaker Breaker
	logger  *slog.Logger
	url     string
	token   string
}

type forwardRequest struct {
	CorrelationID    string         `json:"correlationId"`
	BuildFailedEvent model.Envelope `json:"buildFailedEvent"`
}

func NewClient(url, token string, poster Poster, breaker Breaker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		poster:  poster,
		breaker: breaker,
		logger:  logger,
		url:     url,
		token:   token,
	}
}

// ForwardBuildFailed posts a build.failed envelope to the healer. When the
// breaker is open it fails fast with a circuit-open error and leaves the
// breaker untouched.
func (c *Client) ForwardBuildFailed(ctx context.Context, env model.Envelope) (Ack, error) {
	sc := logger.StartSpan(ctx, "healer.forward_build_failed", trace.WithSpanKind(trace.SpanKindClient))
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("correlation_id", env.CorrelationID),
		attribute.String("event_id", env.ID),
	)

	if !c.breaker.CanRequest() {
		err := resiliency.CircuitOpenError(c.breaker.Name())
		sc.RecordError(err)
		return nil, err
	}

	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}

	ack, err := c.poster.PostJSON(ctx, c.url, forwardRequest{
		CorrelationID:    env.CorrelationID,
		BuildFailedEvent: env,
	}, headers)
	if err != nil {
		c.breaker.MarkFailure()
		sc.RecordError(err)
		c.logger.WarnContext(ctx, "healer forward failed",
			"error_kind", string(resiliency.KindOf(err)),
			"breaker_state", stateOf(c.breaker),
			"error", err)
		return nil, fmt.Errorf("forwarding build failure: %w", err)
	}

	c.breaker.MarkSuccess()
	c.logger.InfoContext(ctx, "healer accepted build failure")
	return ack, nil
}

func stateOf(b Breaker) string {
	if b.CanRequest() {
		return "closed"
	}
	return "open"
}
