package healer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/common/resiliency"
	"github.com/hpcomplexio/mission-control/internal/healer"
	"github.com/hpcomplexio/mission-control/internal/model"
)

type mockPoster struct {
	postFn func(ctx context.Context, url string, body any, headers map[string]string) (json.RawMessage, error)
	calls  int
}

func (m *mockPoster) PostJSON(ctx context.Context, url string, body any, headers map[string]string) (json.RawMessage, error) {
	m.calls++
	if m.postFn != nil {
		return m.postFn(ctx, url, body, headers)
	}
	return json.RawMessage(`{}`), nil
}

var _ = Describe("Client", func() {
	var (
		ctx     context.Context
		clock   *clockwork.FakeClock
		breaker *resiliency.CircuitBreaker
		poster  *mockPoster
		client  *healer.Client
		env     model.Envelope
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = clockwork.NewFakeClock()
		breaker = resiliency.NewCircuitBreaker("healer", 2, time.Minute, resiliency.WithBreakerClock(clock))
		poster = &mockPoster{}
		client = healer.NewClient("http://healer/heal", "tok", poster, breaker, nil)
		env = model.Envelope{ID: "e-1", CorrelationID: "c-1", Type: model.EventBuildFailed}
	})

	It("posts the correlation id and envelope with a bearer token", func() {
		var (
			gotURL     string
			gotBody    any
			gotHeaders map[string]string
		)
		poster.postFn = func(_ context.Context, url string, body any, headers map[string]string) (json.RawMessage, error) {
			gotURL, gotBody, gotHeaders = url, body, headers
			return json.RawMessage(`{"ticket":"h-9"}`), nil
		}

		ack, err := client.ForwardBuildFailed(ctx, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(ack).To(MatchJSON(`{"ticket":"h-9"}`))
		Expect(gotURL).To(Equal("http://healer/heal"))
		Expect(gotHeaders).To(HaveKeyWithValue("Authorization", "Bearer tok"))

		raw, err := json.Marshal(gotBody)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring(`"correlationId":"c-1"`))
		Expect(string(raw)).To(ContainSubstring(`"buildFailedEvent":{"id":"e-1"`))
	})

	It("marks failures and opens the breaker at the threshold", func() {
		poster.postFn = func(context.Context, string, any, map[string]string) (json.RawMessage, error) {
			return nil, &resiliency.CallError{Kind: resiliency.KindHTTPStatus, StatusCode: 502}
		}

		for i := 0; i < 2; i++ {
			_, err := client.ForwardBuildFailed(ctx, env)
			Expect(resiliency.KindOf(err)).To(Equal(resiliency.KindHTTPStatus))
		}
		Expect(breaker.CanRequest()).To(BeFalse())
	})

	It("fails fast without network when the breaker is open", func() {
		breaker.MarkFailure()
		breaker.MarkFailure()

		_, err := client.ForwardBuildFailed(ctx, env)
		Expect(err).To(MatchError(healer.ErrCircuitOpen))
		Expect(resiliency.KindOf(err)).To(Equal(resiliency.KindCircuitOpen))
		Expect(poster.calls).To(Equal(0))

		clock.Advance(time.Minute)
		_, err = client.ForwardBuildFailed(ctx, env)
		Expect(err).NotTo(HaveOccurred())
		Expect(poster.calls).To(Equal(1))
	})

	It("resets the failure count on success", func() {
		poster.postFn = func(context.Context, string, any, map[string]string) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}
		_, _ = client.ForwardBuildFailed(ctx, env)

		poster.postFn = nil
		_, err := client.ForwardBuildFailed(ctx, env)
		Expect(err).NotTo(HaveOccurred())

		poster.postFn = func(context.Context, string, any, map[string]string) (json.RawMessage, error) {
			return nil, errors.New("boom")
		}
		_, _ = client.ForwardBuildFailed(ctx, env)
		Expect(breaker.CanRequest()).To(BeTrue())
	})

	Context("with the retrying client", func() {
		It("counts one breaker failure per exhausted forward", func() {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
			}))
			DeferCleanup(srv.Close)

			rc := resiliency.NewRetryingClient(resiliency.WithDelays(time.Millisecond, time.Millisecond, time.Millisecond))
			client = healer.NewClient(srv.URL, "tok", rc, breaker, nil)

			_, err := client.ForwardBuildFailed(ctx, env)
			Expect(resiliency.StatusCodeOf(err)).To(Equal(http.StatusInternalServerError))
			Expect(hits.Load()).To(Equal(int32(3)))
			Expect(breaker.CanRequest()).To(BeTrue())

			_, _ = client.ForwardBuildFailed(ctx, env)
			Expect(breaker.CanRequest()).To(BeFalse())
		})
	})
})
