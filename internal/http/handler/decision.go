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

type DecisionHandler struct {
	decisions    service.DecisionService
	orchestrator Orchestrator
}

func NewDecisionHandler(decisions service.DecisionService, orch Orchestrator) *DecisionHandler {
	return &DecisionHandler{decisions: decisions, orchestrator: orch}
}

func (h *DecisionHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var status *model.DecisionStatus
	if raw := c.Query("status"); raw != "" {
		s := model.DecisionStatus(raw)
		status = &s
	}

	decisions, err := h.decisions.List(ctx, status)
	if err != nil {
		if errors.Is(err, service.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		slog.ErrorContext(ctx, "failed to list decisions", "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, dto.ListDecisionsResponse{Decisions: decisions})
}

func (h *DecisionHandler) Resolve(c *gin.Context) {
	ctx := c.Request.Context()
	decisionID := c.Param("id")

	var req dto.ResolveDecisionRequest
	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err, "resolution and actor required")
		return
	}

	_, err := h.orchestrator.ResolveDecision(ctx, orchestrator.ResolveParams{
		Notes:      req.Notes,
		DecisionID: decisionID,
		Resolution: req.Resolution,
		Actor:      req.Actor,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrDecisionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision_not_found"})
			return
		}
		slog.ErrorContext(ctx, "failed to resolve decision", "error", err, "decision_id", decisionID)
		internalError(c)
		return
	}

	c.JSON(http.StatusOK, dto.ResolveDecisionResponse{DecisionID: decisionID, Accepted: true})
}
