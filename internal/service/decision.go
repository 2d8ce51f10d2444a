package service

import (
	"context"
	"fmt"

	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/store"
)

type DecisionService interface {
	// List returns decisions newest first, optionally filtered by status.
	List(ctx context.Context, status *model.DecisionStatus) ([]model.Decision, error)
}

type decisionService struct {
	decisions store.DecisionStore
}

func NewDecisionService(decisions store.DecisionStore) DecisionService {
	return &decisionService{decisions: decisions}
}

func (s *decisionService) List(ctx context.Context, status *model.DecisionStatus) ([]model.Decision, error) {
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
	}
	decisions, err := s.decisions.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}
	if decisions == nil {
		decisions = []model.Decision{}
	}
	return decisions, nil
}
