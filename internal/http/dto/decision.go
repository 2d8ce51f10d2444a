package dto

import "github.com/hpcomplexio/mission-control/internal/model"

type ListDecisionsResponse struct {
	Decisions []model.Decision `json:"decisions"`
}

type ResolveDecisionRequest struct {
	Notes      *string `json:"notes"`
	Resolution string  `json:"resolution" binding:"required"`
	Actor      string  `json:"actor" binding:"required"`
}

type ResolveDecisionResponse struct {
	DecisionID string `json:"decisionId"`
	Accepted   bool   `json:"accepted"`
}
