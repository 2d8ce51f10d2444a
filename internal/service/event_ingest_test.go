package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/service"
)

const validEnvelope = `{
	"id": "evt-1",
	"schemaVersion": "1.0.0",
	"eventVersion": 1,
	"source": "self-healing-systems",
	"type": "heal.completed",
	"severity": "info",
	"timestamp": "2026-01-02T03:04:05.678Z",
	"correlationId": "corr-1",
	"payload": {"patch": "diff --git", "attempts": 2},
	"traceparent": "00-abc-def-01"
}`

var _ = Describe("EventIngestService", func() {
	var (
		ctx         context.Context
		idempotency *mockIdempotencyStore
		publisher   *mockPublisher
		svc         service.EventIngestService
	)

	BeforeEach(func() {
		ctx = context.Background()
		idempotency = newMockIdempotencyStore()
		publisher = &mockPublisher{
			publishFn: func(context.Context, model.Envelope) (int64, error) { return 42, nil },
		}
		svc = service.NewEventIngestService(idempotency, contract.Default(), publisher, nil)
	})

	It("publishes a valid envelope and caches the response", func() {
		res, err := svc.Ingest(ctx, "key-1", []byte(validEnvelope))
		Expect(err).NotTo(HaveOccurred())
		Expect(*res).To(Equal(service.IngestResult{Accepted: true, Deduped: false, EventID: "evt-1", StreamID: 42}))

		Expect(publisher.published).To(HaveLen(1))
		env := publisher.published[0]
		Expect(env.Source).To(Equal(model.SourceSelfHealingSystems))
		Expect(env.Payload).To(HaveKeyWithValue("attempts", json.Number("2")))
		Expect(env.Extra).To(HaveKey("traceparent"))

		Expect(idempotency.records).To(HaveKey("key-1"))
		Expect(idempotency.pruned).To(ConsistOf(service.IdempotencyTTL))
	})

	It("replays the cached response for a repeated key without publishing", func() {
		_, err := svc.Ingest(ctx, "key-1", []byte(validEnvelope))
		Expect(err).NotTo(HaveOccurred())

		res, err := svc.Ingest(ctx, "key-1", []byte(`not even json`))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Accepted).To(BeTrue())
		Expect(res.Deduped).To(BeTrue())
		Expect(res.EventID).To(Equal("evt-1"))
		Expect(res.StreamID).To(Equal(int64(42)))
		Expect(publisher.published).To(HaveLen(1))
	})

	It("returns ErrMalformedJSON for unparseable bodies", func() {
		_, err := svc.Ingest(ctx, "key-1", []byte(`{"id":`))
		Expect(errors.Is(err, service.ErrMalformedJSON)).To(BeTrue())
		Expect(publisher.published).To(BeEmpty())
		Expect(idempotency.records).To(BeEmpty())
	})

	It("returns a ValidationError listing contract violations", func() {
		_, err := svc.Ingest(ctx, "key-1", []byte(`{"id":"x","severity":"loud"}`))

		var verr *service.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Details).To(ContainElements("missing schemaVersion", "severity is invalid", "payload must be an object"))
		Expect(publisher.published).To(BeEmpty())
	})

	It("treats an empty body as an empty object", func() {
		_, err := svc.Ingest(ctx, "key-1", nil)

		var verr *service.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Details).To(ContainElement("missing id"))
	})

	It("propagates publish failures without caching", func() {
		publisher.publishFn = func(context.Context, model.Envelope) (int64, error) {
			return 0, errors.New("disk full")
		}

		_, err := svc.Ingest(ctx, "key-1", []byte(validEnvelope))
		Expect(err).To(MatchError(ContainSubstring("disk full")))
		Expect(idempotency.records).To(BeEmpty())
	})

	It("propagates prune failures", func() {
		idempotency.pruneFn = func(context.Context, time.Duration) (int64, error) {
			return 0, errors.New("locked")
		}

		_, err := svc.Ingest(ctx, "key-1", []byte(validEnvelope))
		Expect(err).To(MatchError(ContainSubstring("locked")))
		Expect(publisher.published).To(BeEmpty())
	})

	It("still succeeds when caching the response fails", func() {
		idempotency.saveFn = func(context.Context, string, json.RawMessage) error {
			return errors.New("readonly")
		}

		res, err := svc.Ingest(ctx, "key-1", []byte(validEnvelope))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Accepted).To(BeTrue())
	})

	It("requires a key", func() {
		_, err := svc.Ingest(ctx, " ", []byte(validEnvelope))
		Expect(err).To(HaveOccurred())
	})
})
