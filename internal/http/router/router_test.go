package router_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/core/db"
	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/http/middleware"
	"github.com/hpcomplexio/mission-control/internal/http/router"
	"github.com/hpcomplexio/mission-control/internal/hub"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/orchestrator"
	"github.com/hpcomplexio/mission-control/internal/service"
	"github.com/hpcomplexio/mission-control/internal/store"
)

type stubOrchestrator struct{}

func (stubOrchestrator) Spawn(context.Context, orchestrator.SpawnParams) (*orchestrator.SpawnResult, error) {
	return &orchestrator.SpawnResult{AgentID: "agent_1", CorrelationID: "c", Status: "accepted"}, nil
}

func (stubOrchestrator) InjectEvent(_ context.Context, p orchestrator.InjectParams) (model.Envelope, error) {
	return model.Envelope{Type: p.Type}, nil
}

func (stubOrchestrator) ResolveDecision(context.Context, orchestrator.ResolveParams) (*model.Decision, error) {
	return nil, orchestrator.ErrDecisionNotFound
}

var _ = Describe("SetupRoutes", func() {
	var engine *gin.Engine

	BeforeEach(func() {
		ctx := context.Background()
		conn, err := db.Open(ctx, db.Config{Path: filepath.Join(GinkgoT().TempDir(), "control.db")})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(conn.Close)

		stores := store.NewStores(conn.SQL())
		h := hub.New(stores.EventLogs())
		DeferCleanup(h.Close)
		c := contract.Default()

		gin.SetMode(gin.TestMode)
		engine = gin.New()
		router.SetupRoutes(engine, router.Dependencies{
			Services:     service.NewServices(stores, c, h, nil),
			Stream:       h,
			Orchestrator: stubOrchestrator{},
			Contract:     c,
		}, router.RouterConfig{
			AuthToken:   "tok",
			RateLimiter: middleware.NewRateLimiter(100, 100, clockwork.NewFakeClock()),
		})
	})

	request := func(method, path, token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	It("serves health and reads without a token", func() {
		Expect(request(http.MethodGet, "/health", "", "").Body.String()).To(MatchJSON(`{"status":"ok"}`))
		Expect(request(http.MethodGet, "/agents", "", "").Body.String()).To(MatchJSON(`{"agents":[]}`))
		Expect(request(http.MethodGet, "/decisions", "", "").Body.String()).To(MatchJSON(`{"decisions":[]}`))
		Expect(request(http.MethodGet, "/contract", "", "").Code).To(Equal(http.StatusOK))
	})

	DescribeTable("guards mutating routes with the bearer token",
		func(path string) {
			Expect(request(http.MethodPost, path, "", `{}`).Code).To(Equal(http.StatusUnauthorized))
			Expect(request(http.MethodPost, path, "wrong", `{}`).Code).To(Equal(http.StatusUnauthorized))
		},
		Entry("spawn", "/spawn"),
		Entry("events", "/events"),
		Entry("inject", "/inject"),
		Entry("resolve", "/decisions/d-1/resolve"),
	)

	It("ingests an envelope end to end and replays the cached response", func() {
		body := `{"id":"evt-1","schemaVersion":"1.0.0","eventVersion":1,"source":"immaculate-vibes",
			"type":"agent.progress","severity":"info","timestamp":"2026-01-02T03:04:05.000Z",
			"correlationId":"c-1","payload":{}}`

		post := func() *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
			req.Header.Set("Authorization", "Bearer tok")
			req.Header.Set("Idempotency-Key", "k-1")
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			return w
		}

		first := post()
		Expect(first.Code).To(Equal(http.StatusOK))
		Expect(first.Body.String()).To(MatchJSON(`{"accepted":true,"deduped":false,"eventId":"evt-1","streamId":1}`))

		second := post()
		Expect(second.Code).To(Equal(http.StatusOK))
		Expect(second.Body.String()).To(MatchJSON(`{"accepted":true,"deduped":true,"eventId":"evt-1","streamId":1}`))
	})

	It("maps unknown decisions to 404", func() {
		w := request(http.MethodPost, "/decisions/nope/resolve", "tok", `{"resolution":"r","actor":"a"}`)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})
})
