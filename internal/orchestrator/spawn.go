package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hpcomplexio/mission-control/common"
	"github.com/hpcomplexio/mission-control/common/id"
	"github.com/hpcomplexio/mission-control/common/logger"
	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/worker"
)

type SpawnParams struct {
	Metadata map[string]any
	Task     string
	RepoPath string
	Branch   string
	Priority model.Priority
}

type SpawnResult struct {
	AgentID       string `json:"agentId"`
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

const branchSlugMax = 40

// Spawn registers a new agent, announces it and, unless the metadata says
// otherwise, schedules its first build. Repository problems do not fail the
// call: the agent is marked failed and a decision is raised instead.
func (o *Orchestrator) Spawn(ctx context.Context, p SpawnParams) (*SpawnResult, error) {
	task := strings.TrimSpace(p.Task)
	if task == "" || strings.TrimSpace(p.RepoPath) == "" {
		return nil, ErrInvalidSpawn
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	agentID := id.NewAgentID()
	correlationID := id.NewUUID()
	ctx = logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		AgentID:       logger.Ptr(agentID),
		CorrelationID: logger.Ptr(correlationID),
		Component:     "mission-control.orchestrator",
	})

	branch := strings.TrimSpace(p.Branch)
	if branch == "" {
		// The fallback is never empty, so SlugifyMax cannot fail here.
		slug, _ := common.SlugifyMax(task, "task", branchSlugMax)
		branch = fmt.Sprintf("agent/%s/%s", agentID, slug)
	}
	priority := p.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	run, err := o.runs.Upsert(ctx, &model.AgentRun{
		AgentID:       agentID,
		Task:          task,
		Status:        model.AgentStatusRunning,
		RepoPath:      p.RepoPath,
		Branch:        branch,
		Priority:      priority,
		CorrelationID: correlationID,
		Metadata:      metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting agent run: %w", err)
	}

	st := &agentState{
		run:            *run,
		lastActivityAt: o.clock.Now(),
		failures:       make(map[string][]time.Time),
		buildCommand:   commandFrom(metadata, "buildCommand", o.cfg.DefaultBuildCommand),
		testCommand:    commandFrom(metadata, "testCommand", o.cfg.DefaultTestCommand),
	}
	o.mu.Lock()
	o.agents[agentID] = st
	o.mu.Unlock()

	_ = o.emit(ctx, o.newEnvelope(model.EventAgentSpawned, model.SeverityInfo, correlationID, &agentID, map[string]any{
		"task":     task,
		"repoPath": p.RepoPath,
		"branch":   branch,
		"priority": string(priority),
	}))

	o.logger.InfoContext(ctx, "agent spawned",
		"repo_path", p.RepoPath,
		"branch", branch,
		"priority", priority)

	result := &SpawnResult{AgentID: agentID, CorrelationID: correlationID, Status: "accepted"}

	if err := o.startWatch(ctx, agentID, correlationID, p.RepoPath); err != nil {
		o.logger.WarnContext(ctx, "agent failed before first build", "error", err)
		return result, nil
	}

	if runImmediately(metadata) {
		o.ScheduleBuild(agentID)
	}
	return result, nil
}

// startWatch checks the repository path and installs a watch whose events
// schedule builds. Any failure ends the agent with a decision.
func (o *Orchestrator) startWatch(ctx context.Context, agentID, correlationID, repoPath string) error {
	info, err := os.Stat(repoPath)
	if err != nil || !info.IsDir() {
		o.terminate(ctx, agentID, model.AgentStatusFailed)
		o.raiseDecision(ctx, agentID, correlationID, model.ReasonRepoPathInvalid, map[string]any{
			"repoPath": repoPath,
		})
		if err == nil {
			err = fmt.Errorf("%s is not a directory", repoPath)
		}
		return fmt.Errorf("invalid repo path: %w", err)
	}

	w, err := o.watcher.Watch(repoPath)
	if err != nil {
		o.terminate(ctx, agentID, model.AgentStatusFailed)
		o.raiseDecision(ctx, agentID, correlationID, model.ReasonWatcherFailed, map[string]any{
			"repoPath": repoPath,
			"error":    err.Error(),
		})
		return fmt.Errorf("installing watch: %w", err)
	}

	o.mu.Lock()
	st, ok := o.agents[agentID]
	if !ok || o.closed || st.terminal() {
		o.mu.Unlock()
		_ = w.Close()
		return nil
	}
	st.watch = w
	o.wg.Add(1)
	o.mu.Unlock()

	go o.consumeWatch(ctx, agentID, correlationID, repoPath, w)
	return nil
}

func (o *Orchestrator) consumeWatch(ctx context.Context, agentID, correlationID, repoPath string, w worker.Watch) {
	defer o.wg.Done()

	for ev := range w.Events() {
		if ev.Err != nil {
			o.watchFailed(ctx, agentID, correlationID, repoPath, ev.Err)
			continue
		}
		o.ScheduleBuild(agentID)
	}
}

// watchFailed raises at most one watcher_failed decision per agent until
// a decision for it is resolved.
func (o *Orchestrator) watchFailed(ctx context.Context, agentID, correlationID, repoPath string, cause error) {
	o.mu.Lock()
	st, ok := o.agents[agentID]
	if !ok || st.terminal() || st.watchFailed {
		o.mu.Unlock()
		return
	}
	st.watchFailed = true
	o.mu.Unlock()

	o.logger.WarnContext(ctx, "repository watch failed", "error", cause)
	o.raiseDecision(ctx, agentID, correlationID, model.ReasonWatcherFailed, map[string]any{
		"repoPath": repoPath,
		"error":    cause.Error(),
	})
}

func commandFrom(metadata map[string]any, key, fallback string) string {
	if v, ok := metadata[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// runImmediately is true unless metadata carries runImmediately: false.
func runImmediately(metadata map[string]any) bool {
	v, ok := metadata["runImmediately"].(bool)
	return !ok || v
}
