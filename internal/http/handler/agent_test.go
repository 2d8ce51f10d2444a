package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/internal/http/handler"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/orchestrator"
)

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var resp map[string]any
	Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
	return resp
}

var _ = Describe("AgentHandler", func() {
	var (
		router *gin.Engine
		agents *mockAgentService
		orch   *mockOrchestrator
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		agents = &mockAgentService{}
		orch = &mockOrchestrator{}
		h := handler.NewAgentHandler(agents, orch)
		router.GET("/agents", h.List)
		router.GET("/agents/:id", h.Get)
		router.POST("/spawn", h.Spawn)
		router.POST("/inject", h.Inject)
	})

	Describe("Spawn", func() {
		It("returns 202 with the agent identifiers", func() {
			var got orchestrator.SpawnParams
			orch.spawnFn = func(_ context.Context, p orchestrator.SpawnParams) (*orchestrator.SpawnResult, error) {
				got = p
				return &orchestrator.SpawnResult{AgentID: "agent_7", CorrelationID: "corr-7", Status: "accepted"}, nil
			}

			w := doJSON(router, http.MethodPost, "/spawn",
				`{"task":"fix it","repoPath":"/repo","priority":"high","metadata":{"runImmediately":false}}`)

			Expect(w.Code).To(Equal(http.StatusAccepted))
			resp := decode(w)
			Expect(resp).To(HaveKeyWithValue("agentId", "agent_7"))
			Expect(resp).To(HaveKeyWithValue("correlationId", "corr-7"))
			Expect(resp).To(HaveKeyWithValue("status", "accepted"))

			Expect(got.Task).To(Equal("fix it"))
			Expect(got.Priority).To(Equal(model.PriorityHigh))
			Expect(got.Metadata).To(HaveKeyWithValue("runImmediately", false))
		})

		It("returns 400 when task or repoPath is missing", func() {
			w := doJSON(router, http.MethodPost, "/spawn", `{"task":"fix it"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("error", "task and repoPath are required"))
		})

		It("returns 400 for an empty body", func() {
			w := doJSON(router, http.MethodPost, "/spawn", ``)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("error", "task and repoPath are required"))
		})

		It("returns 400 invalid_json for malformed bodies", func() {
			w := doJSON(router, http.MethodPost, "/spawn", `{"task":`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("error", "invalid_json"))
		})

		It("rejects unknown priorities", func() {
			w := doJSON(router, http.MethodPost, "/spawn", `{"task":"t","repoPath":"/r","priority":"urgent"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("error", "invalid_request"))
		})

		It("returns a generic 500 on unexpected errors", func() {
			orch.spawnFn = func(context.Context, orchestrator.SpawnParams) (*orchestrator.SpawnResult, error) {
				return nil, errors.New("database is locked")
			}
			w := doJSON(router, http.MethodPost, "/spawn", `{"task":"t","repoPath":"/r"}`)
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(MatchJSON(`{"error":"internal_error"}`))
		})
	})

	Describe("Inject", func() {
		It("returns the synthesized envelope", func() {
			w := doJSON(router, http.MethodPost, "/inject", `{"type":"heal.completed","severity":"info"}`)
			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp).To(HaveKeyWithValue("accepted", true))
			Expect(resp["event"]).To(HaveKeyWithValue("type", "heal.completed"))
		})

		It("returns 400 without a type", func() {
			w := doJSON(router, http.MethodPost, "/inject", `{"severity":"info"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("error", "type required"))
		})

		It("returns 400 for unknown types", func() {
			orch.injectFn = func(context.Context, orchestrator.InjectParams) (model.Envelope, error) {
				return model.Envelope{}, orchestrator.ErrInvalidEvent
			}
			w := doJSON(router, http.MethodPost, "/inject", `{"type":"agent.exploded"}`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(w)).To(HaveKeyWithValue("error", "invalid_event"))
		})
	})

	Describe("List and Get", func() {
		It("wraps agents in an envelope object", func() {
			agents.listFn = func(context.Context) ([]model.AgentRun, error) {
				return []model.AgentRun{{AgentID: "agent_1", Status: model.AgentStatusRunning}}, nil
			}
			w := doJSON(router, http.MethodGet, "/agents", ``)
			Expect(w.Code).To(Equal(http.StatusOK))
			resp := decode(w)
			Expect(resp["agents"]).To(HaveLen(1))
		})

		It("returns 404 for unknown agents", func() {
			w := doJSON(router, http.MethodGet, "/agents/agent_404", ``)
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(decode(w)).To(HaveKeyWithValue("error", "agent_not_found"))
		})
	})
})
