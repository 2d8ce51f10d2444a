package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/store"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrInvalidStatus = errors.New("invalid status")
)

type AgentService interface {
	List(ctx context.Context) ([]model.AgentRun, error)
	Get(ctx context.Context, agentID string) (*model.AgentRun, error)
}

type agentService struct {
	runs store.AgentRunStore
}

func NewAgentService(runs store.AgentRunStore) AgentService {
	return &agentService{runs: runs}
}

func (s *agentService) List(ctx context.Context) ([]model.AgentRun, error) {
	runs, err := s.runs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	if runs == nil {
		runs = []model.AgentRun{}
	}
	return runs, nil
}

func (s *agentService) Get(ctx context.Context, agentID string) (*model.AgentRun, error) {
	run, err := s.runs.Get(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching agent: %w", err)
	}
	return run, nil
}
