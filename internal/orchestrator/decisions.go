package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/hpcomplexio/mission-control/common/id"
	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/store"
)

type ResolveParams struct {
	Notes      *string
	DecisionID string
	Resolution string
	Actor      string
}

const resumeMessage = "Agent resumed after decision resolution"

// raiseDecision persists a pending decision and announces it. A storage
// failure is logged and the announcement still goes out.
func (o *Orchestrator) raiseDecision(ctx context.Context, agentID, correlationID string, reason model.ReasonCode, payload map[string]any) {
	decisionID := id.NewUUID()
	ctx = logger.WithLogFields(ctx, logger.LogFields{DecisionID: logger.Ptr(decisionID)})

	var agentRef *string
	if agentID != "" {
		agentRef = &agentID
	}

	if _, err := o.decisions.Create(ctx, &model.Decision{
		ID:            decisionID,
		CorrelationID: correlationID,
		AgentID:       agentRef,
		ReasonCode:    reason,
		Payload:       payload,
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to persist decision", "error", err, "reason_code", reason)
	}

	body := map[string]any{
		"decisionId": decisionID,
		"reasonCode": string(reason),
	}
	for k, v := range payload {
		body[k] = v
	}
	_ = o.emit(ctx, o.newEnvelope(model.EventDecisionRequired, model.SeverityWarn, correlationID, agentRef, body))

	o.logger.WarnContext(ctx, "decision required", "reason_code", reason)
}

// ResolveDecision closes a pending decision. When it belongs to a live
// agent the agent is unpaused and exactly one build is scheduled.
func (o *Orchestrator) ResolveDecision(ctx context.Context, p ResolveParams) (*model.Decision, error) {
	ctx = logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		DecisionID: logger.Ptr(p.DecisionID),
		Component:  "mission-control.orchestrator.decisions",
	})

	d, err := o.decisions.Resolve(ctx, p.DecisionID, p.Resolution, p.Actor, p.Notes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("resolving decision: %w", err)
	}

	var notes any
	if p.Notes != nil {
		notes = *p.Notes
	}
	if err := o.emit(ctx, o.newEnvelope(model.EventDecisionResolved, model.SeverityInfo, d.CorrelationID, d.AgentID, map[string]any{
		"decisionId": d.ID,
		"resolution": p.Resolution,
		"actor":      p.Actor,
		"notes":      notes,
	})); err != nil {
		o.logger.WarnContext(ctx, "decision resolved without announcement", "error", err)
	}

	o.logger.InfoContext(ctx, "decision resolved",
		"reason_code", d.ReasonCode,
		"actor", p.Actor)

	if d.AgentID == nil {
		return d, nil
	}
	agentID := *d.AgentID

	o.mu.Lock()
	st, ok := o.agents[agentID]
	resume := ok && !st.terminal()
	if resume {
		st.paused = false
		st.watchFailed = false
		st.lastActivityAt = o.clock.Now()
	}
	o.mu.Unlock()
	if !resume {
		return d, nil
	}

	o.setStatus(ctx, agentID, model.AgentStatusRunning)
	_ = o.emit(ctx, o.newEnvelope(model.EventAgentProgress, model.SeverityInfo, d.CorrelationID, &agentID, map[string]any{
		"message": resumeMessage,
	}))
	o.ScheduleBuild(agentID)
	return d, nil
}
