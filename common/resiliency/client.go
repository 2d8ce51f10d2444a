package resiliency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultJitterPercent  = 20
	maxResponseBytes      = 1 << 20
)

// DefaultDelays are the fixed waits between attempts. The client makes one
// attempt per entry and waits after every failed attempt but the last, so
// the final delay is never slept.
var DefaultDelays = []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond, 2000 * time.Millisecond}

// RetryingClient posts JSON with bounded attempts, a per-attempt timeout and
// jittered fixed backoff.
type RetryingClient struct {
	client        *http.Client
	logger        *slog.Logger
	delays        []time.Duration
	timeout       time.Duration
	jitterPercent uint64
}

type ClientOption func(*RetryingClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(rc *RetryingClient) {
		rc.client = c
	}
}

// WithDelays sets the backoff schedule; len(delays) is the attempt budget.
func WithDelays(delays ...time.Duration) ClientOption {
	return func(rc *RetryingClient) {
		rc.delays = delays
	}
}

func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(rc *RetryingClient) {
		rc.timeout = d
	}
}

func WithJitterPercent(p uint64) ClientOption {
	return func(rc *RetryingClient) {
		rc.jitterPercent = p
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(rc *RetryingClient) {
		rc.logger = logger
	}
}

func NewRetryingClient(opts ...ClientOption) *RetryingClient {
	rc := &RetryingClient{
		client:        &http.Client{},
		logger:        slog.Default(),
		delays:        DefaultDelays,
		timeout:       DefaultAttemptTimeout,
		jitterPercent: DefaultJitterPercent,
	}
	for _, opt := range opts {
		opt(rc)
	}
	if len(rc.delays) == 0 {
		rc.delays = []time.Duration{0}
	}
	return rc
}

func (c *RetryingClient) backoff() retry.Backoff {
	next := 0
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		if next >= len(c.delays)-1 {
			return 0, true
		}
		d := c.delays[next]
		next++
		return d, false
	})
	if c.jitterPercent > 0 {
		return retry.WithJitterPercent(c.jitterPercent, b)
	}
	return b
}

// PostJSON sends body as JSON to url. A 2xx response is decoded and returned
// (an empty body decodes to {}); anything else is retried until the attempt
// budget runs out, and the last *CallError is returned.
func (c *RetryingClient) PostJSON(ctx context.Context, url string, body any, headers map[string]string) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	var (
		result  json.RawMessage
		attempt int
	)
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		res, err := c.post(ctx, url, payload, headers)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "outbound request failed",
				"url", url,
				"attempt", attempt,
				"max_attempts", len(c.delays),
				"error", err)
			return retry.RetryableError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RetryingClient) post(ctx context.Context, url string, payload []byte, headers map[string]string) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Kind: KindUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(attemptCtx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &CallError{Kind: KindTimeout, Err: err}
		}
		return nil, &CallError{Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &CallError{Kind: KindTimeout, Err: err}
		}
		return nil, &CallError{Kind: KindUnreachable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CallError{Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(data) {
		return nil, &CallError{Kind: KindUnreachable, Err: errors.New("response body is not valid JSON")}
	}
	return json.RawMessage(data), nil
}
