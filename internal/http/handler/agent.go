package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hpcomplexio/mission-control/internal/http/dto"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/orchestrator"
	"github.com/hpcomplexio/mission-control/internal/service"
)

type AgentHandler struct {
	agents       service.AgentService
	orchestrator Orchestrator
}

func NewAgentHandler(agents service.AgentService, orch Orchestrator) *AgentHandler {
	return &AgentHandler{agents: agents, orchestrator: orch}
}

func (h *AgentHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	agents, err := h.agents.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list agents", "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, dto.ListAgentsResponse{Agents: agents})
}

func (h *AgentHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	run, err := h.agents.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent_not_found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get agent", "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *AgentHandler) Spawn(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SpawnAgentRequest
	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err, "task and repoPath are required")
		return
	}

	res, err := h.orchestrator.Spawn(ctx, orchestrator.SpawnParams{
		Metadata: req.Metadata,
		Task:     req.Task,
		RepoPath: req.RepoPath,
		Branch:   req.Branch,
		Priority: model.Priority(req.Priority),
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidSpawn) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "task and repoPath are required"})
			return
		}
		if errors.Is(err, orchestrator.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
			return
		}
		slog.ErrorContext(ctx, "failed to spawn agent", "error", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusAccepted, dto.SpawnAgentResponse{
		AgentID:       res.AgentID,
		CorrelationID: res.CorrelationID,
		Status:        res.Status,
	})
}

func (h *AgentHandler) Inject(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.InjectEventRequest
	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err, "type required")
		return
	}

	env, err := h.orchestrator.InjectEvent(ctx, orchestrator.InjectParams{
		AgentID:       req.AgentID,
		Payload:       req.Payload,
		Type:          model.EventType(req.Type),
		Severity:      model.Severity(req.Severity),
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "details": []string{err.Error()}})
			return
		}
		slog.ErrorContext(ctx, "failed to inject event", "error", err)
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, dto.InjectEventResponse{Event: env, Accepted: true})
}
