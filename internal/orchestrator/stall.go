package orchestrator

import (
	"context"
	"time"

	"github.com/hpcomplexio/mission-control/internal/model"
)

type stalledAgent struct {
	lastActivityAt time.Time
	agentID        string
	correlationID  string
}

// SweepStalled pauses every live agent that has no build running and no
// activity for longer than StallThreshold, and raises one agent_stalled
// decision for each. It returns how many agents were paused.
func (o *Orchestrator) SweepStalled(ctx context.Context) int {
	now := o.clock.Now()

	o.mu.Lock()
	var stalled []stalledAgent
	for agentID, st := range o.agents {
		if st.paused || st.terminal() {
			continue
		}
		// A running build is bounded by BuildTimeout and reports its own outcome.
		if st.gate == gateRunning || st.gate == gateRunningQueued {
			continue
		}
		if now.Sub(st.lastActivityAt) <= o.cfg.StallThreshold {
			continue
		}
		st.paused = true
		stalled = append(stalled, stalledAgent{
			lastActivityAt: st.lastActivityAt,
			agentID:        agentID,
			correlationID:  st.run.CorrelationID,
		})
	}
	o.mu.Unlock()

	for _, s := range stalled {
		o.logger.WarnContext(ctx, "agent stalled",
			"agent_id", s.agentID,
			"idle_for", now.Sub(s.lastActivityAt))
		o.setStatus(ctx, s.agentID, model.AgentStatusBlocked)
		o.raiseDecision(ctx, s.agentID, s.correlationID, model.ReasonAgentStalled, map[string]any{
			"lastActivityAt": model.FormatTimestamp(s.lastActivityAt),
		})
	}
	return len(stalled)
}
