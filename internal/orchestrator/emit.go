package orchestrator

import (
	"context"
	"fmt"

	"github.com/hpcomplexio/mission-control/common/id"
	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/internal/model"
)

type InjectParams struct {
	AgentID       *string
	Payload       map[string]any
	Type          model.EventType
	Severity      model.Severity
	CorrelationID string
}

func (o *Orchestrator) newEnvelope(typ model.EventType, severity model.Severity, correlationID string, agentID *string, payload map[string]any) model.Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return model.Envelope{
		ID:            id.NewUUID(),
		SchemaVersion: model.SchemaVersion,
		EventVersion:  1,
		Source:        model.SourceMissionControl,
		Type:          typ,
		Severity:      severity,
		Timestamp:     model.FormatTimestamp(o.clock.Now()),
		CorrelationID: correlationID,
		AgentID:       agentID,
		Payload:       payload,
	}
}

// emit publishes env and refreshes the activity of the agent it names.
// Background callers only log the returned error.
func (o *Orchestrator) emit(ctx context.Context, env model.Envelope) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(env.ID),
		EventType: logger.Ptr(string(env.Type)),
	})

	seq, err := o.publisher.Publish(ctx, env)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to publish envelope", "error", err)
		return fmt.Errorf("publishing %s: %w", env.Type, err)
	}
	if env.AgentID != nil {
		o.touch(*env.AgentID)
	}

	o.logger.DebugContext(ctx, "envelope published", "seq", seq)
	return nil
}

// InjectEvent synthesizes an envelope and emits it. An injected
// agent.completed ends the named agent.
func (o *Orchestrator) InjectEvent(ctx context.Context, p InjectParams) (model.Envelope, error) {
	if !p.Type.Valid() {
		return model.Envelope{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, p.Type)
	}
	if p.Severity == "" {
		p.Severity = model.SeverityWarn
	}
	if !p.Severity.Valid() {
		return model.Envelope{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidEvent, p.Severity)
	}
	if p.CorrelationID == "" {
		p.CorrelationID = id.NewUUID()
	}
	if p.AgentID != nil && *p.AgentID == "" {
		p.AgentID = nil
	}

	ctx = context.WithoutCancel(ctx)
	env := o.newEnvelope(p.Type, p.Severity, p.CorrelationID, p.AgentID, p.Payload)
	if err := o.emit(ctx, env); err != nil {
		return model.Envelope{}, err
	}

	if p.Type == model.EventAgentCompleted && p.AgentID != nil {
		o.mu.Lock()
		st, ok := o.agents[*p.AgentID]
		live := ok && !st.terminal()
		o.mu.Unlock()
		if live {
			o.terminate(ctx, *p.AgentID, model.AgentStatusCompleted)
			o.logger.InfoContext(ctx, "agent completed by injected event", "agent_id", *p.AgentID)
		}
	}
	return env, nil
}
