package model

import "time"

type AgentStatus string

const (
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusBlocked   AgentStatus = "blocked"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
)

// Terminal reports whether the status ends the agent's lifecycle.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type AgentRun struct {
	StartedAt     time.Time      `json:"startedAt"`
	EndedAt       *time.Time     `json:"endedAt,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	AgentID       string         `json:"agentId"`
	Task          string         `json:"task"`
	Status        AgentStatus    `json:"status"`
	RepoPath      string         `json:"repoPath"`
	Branch        string         `json:"branch"`
	Priority      Priority       `json:"priority"`
	CorrelationID string         `json:"correlationId"`
}
