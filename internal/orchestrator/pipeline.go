package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/common/resiliency"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/worker"
)

type phase string

const (
	phaseBuild phase = "build"
	phaseTest  phase = "test"
)

const (
	tailLines        = 100
	signatureMaxRune = 160
	escalationNote   = "Healer forwarding failed; manual intervention required."
)

var lineBreak = regexp.MustCompile(`\r?\n`)

// ScheduleBuild arms a debounced build for the agent. While a build runs a
// single follow-up is queued; further requests collapse into it.
func (o *Orchestrator) ScheduleBuild(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.agents[agentID]
	if !ok || o.closed || st.paused || st.terminal() {
		return
	}

	switch st.gate {
	case gateIdle:
		st.gate = gatePending
		st.debounce = o.clock.AfterFunc(o.cfg.Debounce, func() {
			o.fireBuild(agentID)
		})
	case gateRunning:
		st.gate = gateRunningQueued
	}
}

// fireBuild runs when the debounce timer expires.
func (o *Orchestrator) fireBuild(agentID string) {
	o.mu.Lock()
	st, ok := o.agents[agentID]
	if !ok || o.closed || st.gate != gatePending {
		o.mu.Unlock()
		return
	}
	st.debounce = nil
	st.gate = gateRunning
	o.wg.Add(1)
	o.mu.Unlock()

	defer o.wg.Done()
	o.runPipeline(o.ctx, agentID)
	o.finishBuild(agentID)
}

// RunBuildPipeline runs a build immediately, skipping the debounce. If a
// build is already running the request is queued behind it.
func (o *Orchestrator) RunBuildPipeline(ctx context.Context, agentID string) {
	o.mu.Lock()
	st, ok := o.agents[agentID]
	if !ok || o.closed {
		o.mu.Unlock()
		return
	}
	switch st.gate {
	case gateRunning:
		st.gate = gateRunningQueued
		o.mu.Unlock()
		return
	case gateRunningQueued:
		o.mu.Unlock()
		return
	case gatePending:
		if st.debounce != nil {
			st.debounce.Stop()
			st.debounce = nil
		}
	}
	st.gate = gateRunning
	o.wg.Add(1)
	o.mu.Unlock()

	defer o.wg.Done()
	o.runPipeline(ctx, agentID)
	o.finishBuild(agentID)
}

// finishBuild returns the gate to idle and re-arms a queued build.
func (o *Orchestrator) finishBuild(agentID string) {
	o.mu.Lock()
	st, ok := o.agents[agentID]
	requeue := false
	if ok {
		requeue = st.gate == gateRunningQueued
		st.gate = gateIdle
	}
	o.mu.Unlock()

	if requeue {
		o.ScheduleBuild(agentID)
	}
}

type pipelineTarget struct {
	agentID       string
	correlationID string
	repoPath      string
	buildCommand  string
	testCommand   string
}

// active reports whether the agent can still run builds.
func (o *Orchestrator) active(agentID string) (pipelineTarget, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.agents[agentID]
	if !ok || st.paused || st.terminal() {
		return pipelineTarget{}, false
	}
	return pipelineTarget{
		agentID:       agentID,
		correlationID: st.run.CorrelationID,
		repoPath:      st.run.RepoPath,
		buildCommand:  st.buildCommand,
		testCommand:   st.testCommand,
	}, true
}

// outcome reports whether a finished command's result should still be
// announced, and whether the agent has been paused since the run started.
func (o *Orchestrator) outcome(agentID string) (paused, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, known := o.agents[agentID]
	if !known || st.terminal() {
		return false, false
	}
	return st.paused, true
}

func (o *Orchestrator) runPipeline(ctx context.Context, agentID string) {
	target, ok := o.active(agentID)
	if !ok {
		return
	}
	o.touch(agentID)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AgentID:       logger.Ptr(agentID),
		CorrelationID: logger.Ptr(target.correlationID),
		Component:     "mission-control.orchestrator.pipeline",
	})
	span := logger.StartSpan(ctx, "orchestrator.build_pipeline")
	defer span.End()
	ctx = span.Context()
	span.SetAttributes(attribute.String("agent_id", agentID))

	o.logger.InfoContext(ctx, "build pipeline started", "build_command", target.buildCommand)

	build := o.runner.Run(ctx, worker.ShellCommand{
		Command: target.buildCommand,
		Dir:     target.repoPath,
		Timeout: o.cfg.BuildTimeout,
	})
	if ctx.Err() != nil {
		return
	}
	if !build.OK {
		o.handleFailure(ctx, target, phaseBuild, target.buildCommand, build)
		return
	}
	o.touch(agentID)

	test := o.runner.Run(ctx, worker.ShellCommand{
		Command: target.testCommand,
		Dir:     target.repoPath,
		Timeout: o.cfg.BuildTimeout,
	})
	if ctx.Err() != nil {
		return
	}
	if !test.OK {
		o.handleFailure(ctx, target, phaseTest, target.testCommand, test)
		return
	}

	paused, ok := o.outcome(agentID)
	if !ok {
		return
	}
	_ = o.emit(ctx, o.newEnvelope(model.EventBuildPassed, model.SeverityInfo, target.correlationID, &target.agentID, map[string]any{
		"buildCommand": target.buildCommand,
		"testCommand":  target.testCommand,
	}))
	// A paused agent keeps its status until its decision is resolved.
	if !paused {
		o.setStatus(ctx, agentID, model.AgentStatusRunning)
	}
	o.logger.InfoContext(ctx, "build pipeline passed", "paused", paused)
}

func (o *Orchestrator) handleFailure(ctx context.Context, target pipelineTarget, ph phase, command string, res worker.Result) {
	paused, ok := o.outcome(target.agentID)
	if !ok {
		return
	}

	signature := failureSignature(ph, res)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mission-control.orchestrator.failure"})
	o.logger.WarnContext(ctx, "build pipeline failed",
		"phase", ph,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"signature", signature)

	failed := o.newEnvelope(model.EventBuildFailed, model.SeverityCritical, target.correlationID, &target.agentID, map[string]any{
		"phase":      string(ph),
		"command":    command,
		"exitCode":   res.ExitCode,
		"timedOut":   res.TimedOut,
		"signature":  signature,
		"stdoutTail": tail(res.Stdout, tailLines),
		"stderrTail": tail(res.Stderr, tailLines),
	})
	_ = o.emit(ctx, failed)
	o.setStatus(ctx, target.agentID, model.AgentStatusBlocked)

	o.mu.Lock()
	st, ok := o.agents[target.agentID]
	count := 0
	if ok {
		count = st.recordFailure(signature, o.clock.Now(), o.cfg.FlapWindow)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if paused {
		o.logger.InfoContext(ctx, "agent paused, failure not escalated", "signature", signature)
		return
	}

	if count >= o.cfg.FlapThreshold {
		o.logger.WarnContext(ctx, "failure signature is flapping", "signature", signature, "occurrences", count)
		o.pause(target.agentID)
		o.raiseDecision(ctx, target.agentID, target.correlationID, model.ReasonFlappingFailureSignature, map[string]any{
			"signature": signature,
		})
		return
	}

	ack, err := o.healer.ForwardBuildFailed(ctx, failed)
	if err == nil {
		_ = o.emit(ctx, o.newEnvelope(model.EventHealAttempted, model.SeverityInfo, target.correlationID, &target.agentID, map[string]any{
			"signature": signature,
			"healerAck": decodeAck(ack),
		}))
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	reason := model.ReasonHealerUnreachable
	if resiliency.KindOf(err) == resiliency.KindCircuitOpen {
		reason = model.ReasonHealerCircuitOpen
	}
	o.logger.ErrorContext(ctx, "healer forwarding failed",
		"error", err,
		"reason_code", reason,
		"error_kind", resiliency.KindOf(err))

	escalation := map[string]any{
		"reasonCode":   string(reason),
		"errorKind":    string(resiliency.KindOf(err)),
		"humanContext": escalationNote,
	}
	if code := resiliency.StatusCodeOf(err); code != 0 {
		escalation["httpStatus"] = code
	}
	_ = o.emit(ctx, o.newEnvelope(model.EventHealEscalated, model.SeverityWarn, target.correlationID, &target.agentID, escalation))

	o.pause(target.agentID)
	o.raiseDecision(ctx, target.agentID, target.correlationID, reason, map[string]any{
		"error": err.Error(),
	})
}

// pause stops the agent from scheduling builds until a decision is
// resolved.
func (o *Orchestrator) pause(agentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.agents[agentID]; ok {
		st.paused = true
	}
}

// failureSignature is "<phase>:<first non-blank output line>", preferring
// stderr over stdout. The line is kept as written, indentation included.
func failureSignature(ph phase, res worker.Result) string {
	for _, line := range lineBreak.Split(res.Stderr+"\n"+res.Stdout, -1) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if utf8.RuneCountInString(line) > signatureMaxRune {
			line = string([]rune(line)[:signatureMaxRune])
		}
		return string(ph) + ":" + line
	}
	return string(ph) + ":unknown"
}

func tail(s string, n int) string {
	if s == "" {
		return ""
	}
	lines := lineBreak.Split(s, -1)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// decodeAck turns the healer's reply into a payload value. Non-JSON replies
// are carried as a string.
func decodeAck(ack json.RawMessage) any {
	if len(bytes.TrimSpace(ack)) == 0 {
		return map[string]any{}
	}
	dec := json.NewDecoder(bytes.NewReader(ack))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(ack)
	}
	return v
}
