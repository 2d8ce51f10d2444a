package dto

import "github.com/hpcomplexio/mission-control/internal/model"

type SpawnAgentRequest struct {
	Metadata map[string]any `json:"metadata"`
	Task     string         `json:"task" binding:"required"`
	RepoPath string         `json:"repoPath" binding:"required"`
	Branch   string         `json:"branch"`
	Priority string         `json:"priority" binding:"omitempty,oneof=low normal high"`
}

type SpawnAgentResponse struct {
	AgentID       string `json:"agentId"`
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

type ListAgentsResponse struct {
	Agents []model.AgentRun `json:"agents"`
}

type InjectEventRequest struct {
	AgentID       *string        `json:"agentId"`
	Payload       map[string]any `json:"payload"`
	Type          string         `json:"type" binding:"required"`
	Severity      string         `json:"severity"`
	CorrelationID string         `json:"correlationId"`
}

type InjectEventResponse struct {
	Event    model.Envelope `json:"event"`
	Accepted bool           `json:"accepted"`
}
