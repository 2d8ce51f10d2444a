package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/core/db"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/store"
)

func envelope(id string, typ model.EventType) model.Envelope {
	agentID := "agent_1"
	return model.Envelope{
		ID:            id,
		SchemaVersion: model.SchemaVersion,
		EventVersion:  1,
		Source:        model.SourceMissionControl,
		Type:          typ,
		Severity:      model.SeverityInfo,
		Timestamp:     "2026-01-02T03:04:05.000Z",
		CorrelationID: "corr-1",
		AgentID:       &agentID,
		Payload:       map[string]any{"n": json.Number("1")},
	}
}

var _ = Describe("Stores", func() {
	var (
		ctx    context.Context
		conn   *db.DB
		clock  *clockwork.FakeClock
		stores *store.Stores
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		conn, err = db.Open(ctx, db.Config{Path: filepath.Join(GinkgoT().TempDir(), "control.db")})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(conn.Close)

		clock = clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
		stores = store.NewStores(conn.SQL(), store.WithClock(clock))
	})

	Describe("EventLogStore", func() {
		It("assigns strictly increasing seq values", func() {
			var last int64
			for i := 0; i < 5; i++ {
				seq, err := stores.EventLogs().Insert(ctx, envelope(fmt.Sprintf("e-%d", i), model.EventAgentProgress))
				Expect(err).NotTo(HaveOccurred())
				Expect(seq).To(BeNumerically(">", last))
				last = seq
			}
		})

		It("lists rows after a cursor in ascending order", func() {
			for i := 0; i < 4; i++ {
				_, err := stores.EventLogs().Insert(ctx, envelope(fmt.Sprintf("e-%d", i), model.EventAgentProgress))
				Expect(err).NotTo(HaveOccurred())
			}

			rows, err := stores.EventLogs().ListAfter(ctx, 1, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].Seq).To(Equal(int64(2)))
			Expect(rows[1].Seq).To(Equal(int64(3)))
			Expect(rows[0].Envelope.ID).To(Equal("e-1"))
			Expect(rows[0].Envelope.Payload["n"]).To(Equal(json.Number("1")))
		})

		It("resolves event ids to seq and returns 0 for unknown ids", func() {
			_, err := stores.EventLogs().Insert(ctx, envelope("first", model.EventAgentSpawned))
			Expect(err).NotTo(HaveOccurred())
			second, err := stores.EventLogs().Insert(ctx, envelope("second", model.EventAgentSpawned))
			Expect(err).NotTo(HaveOccurred())

			Expect(stores.EventLogs().SeqForEventID(ctx, "second")).To(Equal(second))
			Expect(stores.EventLogs().SeqForEventID(ctx, "missing")).To(Equal(int64(0)))
		})

		It("prunes rows older than the retention window on insert", func() {
			_, err := stores.EventLogs().Insert(ctx, envelope("old", model.EventAgentSpawned))
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(store.DefaultRetention + time.Minute)
			_, err = stores.EventLogs().Insert(ctx, envelope("new", model.EventAgentSpawned))
			Expect(err).NotTo(HaveOccurred())

			Expect(stores.EventLogs().Count(ctx)).To(Equal(int64(1)))
			Expect(stores.EventLogs().SeqForEventID(ctx, "old")).To(Equal(int64(0)))
		})

		It("preserves unknown envelope fields", func() {
			env := envelope("extra", model.EventAgentSpawned)
			env.Extra = map[string]json.RawMessage{"future": json.RawMessage(`{"x":1}`)}
			_, err := stores.EventLogs().Insert(ctx, env)
			Expect(err).NotTo(HaveOccurred())

			rows, err := stores.EventLogs().ListAfter(ctx, 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(rows[0].Envelope.Extra["future"])).To(Equal(`{"x":1}`))
		})
	})

	Describe("IdempotencyStore", func() {
		It("returns ErrNotFound for unknown keys", func() {
			_, err := stores.Idempotency().Get(ctx, "nope")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("saves, replaces and prunes cached responses", func() {
			Expect(stores.Idempotency().Save(ctx, "k", json.RawMessage(`{"a":1}`))).To(Succeed())
			Expect(stores.Idempotency().Save(ctx, "k", json.RawMessage(`{"a":2}`))).To(Succeed())

			got, err := stores.Idempotency().Get(ctx, "k")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(MatchJSON(`{"a":2}`))

			clock.Advance(11 * time.Minute)
			n, err := stores.Idempotency().Prune(ctx, 10*time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = stores.Idempotency().Get(ctx, "k")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("DecisionStore", func() {
		create := func(id string) *model.Decision {
			agentID := "agent_1"
			d, err := stores.Decisions().Create(ctx, &model.Decision{
				ID:            id,
				CorrelationID: "corr-1",
				AgentID:       &agentID,
				ReasonCode:    model.ReasonAgentStalled,
				Status:        model.DecisionStatusResolved,
				Payload:       map[string]any{"lastActivityAt": "x"},
			})
			Expect(err).NotTo(HaveOccurred())
			return d
		}

		It("always creates decisions as pending", func() {
			d := create("d-1")
			Expect(d.Status).To(Equal(model.DecisionStatusPending))
			Expect(d.CreatedAt).To(BeTemporally("==", clock.Now()))
			Expect(d.ResolvedAt).To(BeNil())
		})

		It("resolves a pending decision exactly once", func() {
			create("d-1")
			clock.Advance(time.Second)
			notes := "looked into it"

			d, err := stores.Decisions().Resolve(ctx, "d-1", "retry", "alice", &notes)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Status).To(Equal(model.DecisionStatusResolved))
			Expect(*d.Resolution).To(Equal("retry"))
			Expect(*d.Actor).To(Equal("alice"))
			Expect(*d.Notes).To(Equal(notes))
			Expect(*d.ResolvedAt).To(BeTemporally("==", clock.Now()))

			_, err = stores.Decisions().Resolve(ctx, "d-1", "again", "bob", nil)
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("returns ErrNotFound when resolving an unknown decision", func() {
			_, err := stores.Decisions().Resolve(ctx, "missing", "retry", "alice", nil)
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("lists newest first with an optional status filter", func() {
			create("d-1")
			clock.Advance(time.Second)
			create("d-2")
			_, err := stores.Decisions().Resolve(ctx, "d-1", "ok", "alice", nil)
			Expect(err).NotTo(HaveOccurred())

			all, err := stores.Decisions().List(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
			Expect(all[0].ID).To(Equal("d-2"))

			pending := model.DecisionStatusPending
			open, err := stores.Decisions().List(ctx, &pending)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(HaveLen(1))
			Expect(open[0].ID).To(Equal("d-2"))
		})
	})

	Describe("AgentRunStore", func() {
		run := func(id string, status model.AgentStatus) *model.AgentRun {
			return &model.AgentRun{
				AgentID:       id,
				Task:          "fix login",
				Status:        status,
				RepoPath:      "/repo",
				Branch:        "agent/" + id + "/fix-login",
				CorrelationID: "corr-" + id,
				Metadata:      map[string]any{"runImmediately": false},
			}
		}

		It("defaults priority and keeps identity fields immutable", func() {
			created, err := stores.AgentRuns().Upsert(ctx, run("a1", model.AgentStatusRunning))
			Expect(err).NotTo(HaveOccurred())
			Expect(created.Priority).To(Equal(model.PriorityNormal))
			Expect(created.EndedAt).To(BeNil())

			update := run("a1", model.AgentStatusBlocked)
			update.Task = "something else"
			update.Priority = model.PriorityHigh
			clock.Advance(time.Minute)

			updated, err := stores.AgentRuns().Upsert(ctx, update)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Task).To(Equal("fix login"))
			Expect(updated.Status).To(Equal(model.AgentStatusBlocked))
			Expect(updated.Priority).To(Equal(model.PriorityHigh))
			Expect(updated.StartedAt).To(BeTemporally("==", created.StartedAt))
		})

		It("sets endedAt once the run reaches a terminal status", func() {
			_, err := stores.AgentRuns().Upsert(ctx, run("a1", model.AgentStatusRunning))
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Minute)
			failed, err := stores.AgentRuns().Upsert(ctx, run("a1", model.AgentStatusFailed))
			Expect(err).NotTo(HaveOccurred())
			Expect(failed.EndedAt).NotTo(BeNil())
			endedAt := *failed.EndedAt

			clock.Advance(time.Minute)
			again, err := stores.AgentRuns().Upsert(ctx, run("a1", model.AgentStatusFailed))
			Expect(err).NotTo(HaveOccurred())
			Expect(*again.EndedAt).To(BeTemporally("==", endedAt))
		})

		It("lists runs by start time descending", func() {
			_, err := stores.AgentRuns().Upsert(ctx, run("a1", model.AgentStatusRunning))
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(time.Second)
			_, err = stores.AgentRuns().Upsert(ctx, run("a2", model.AgentStatusRunning))
			Expect(err).NotTo(HaveOccurred())

			runs, err := stores.AgentRuns().List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(2))
			Expect(runs[0].AgentID).To(Equal("a2"))
			Expect(runs[1].Metadata).To(HaveKeyWithValue("runImmediately", false))
		})

		It("returns ErrNotFound for unknown agents", func() {
			_, err := stores.AgentRuns().Get(ctx, "missing")
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})
})
