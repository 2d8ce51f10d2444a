package service

import (
	"log/slog"

	"github.com/hpcomplexio/mission-control/internal/store"
)

type Services struct {
	stores    *store.Stores
	validator EnvelopeValidator
	publisher Publisher
	ingest    EventIngestService
}

func NewServices(stores *store.Stores, validator EnvelopeValidator, publisher Publisher, logger *slog.Logger) *Services {
	return &Services{
		stores:    stores,
		validator: validator,
		publisher: publisher,
		ingest:    NewEventIngestService(stores.Idempotency(), validator, publisher, logger),
	}
}

// EventIngest is shared so every caller goes through the same lock.
func (s *Services) EventIngest() EventIngestService {
	return s.ingest
}

func (s *Services) Decisions() DecisionService {
	return NewDecisionService(s.stores.Decisions())
}

func (s *Services) Agents() AgentService {
	return NewAgentService(s.stores.AgentRuns())
}
