package model

import "time"

type DecisionStatus string

const (
	DecisionStatusPending  DecisionStatus = "pending"
	DecisionStatusResolved DecisionStatus = "resolved"
)

func (s DecisionStatus) Valid() bool {
	return s == DecisionStatusPending || s == DecisionStatusResolved
}

type ReasonCode string

const (
	ReasonRepoPathInvalid          ReasonCode = "repo_path_invalid"
	ReasonWatcherFailed            ReasonCode = "watcher_failed"
	ReasonFlappingFailureSignature ReasonCode = "flapping_failure_signature"
	ReasonHealerCircuitOpen        ReasonCode = "healer_circuit_open"
	ReasonHealerUnreachable        ReasonCode = "healer_unreachable"
	ReasonAgentStalled             ReasonCode = "agent_stalled"
)

type Decision struct {
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	AgentID       *string        `json:"agentId,omitempty"`
	Resolution    *string        `json:"resolution,omitempty"`
	Actor         *string        `json:"actor,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	Payload       map[string]any `json:"payload"`
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId"`
	Status        DecisionStatus `json:"status"`
	ReasonCode    ReasonCode     `json:"reasonCode"`
}
