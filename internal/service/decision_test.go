package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hpcomplexio/mission-control/internal/model"
	"github.com/hpcomplexio/mission-control/internal/service"
	"github.com/hpcomplexio/mission-control/internal/store"
)

var _ = Describe("DecisionService", func() {
	var (
		ctx       context.Context
		decisions *mockDecisionStore
		svc       service.DecisionService
	)

	BeforeEach(func() {
		ctx = context.Background()
		decisions = &mockDecisionStore{}
		svc = service.NewDecisionService(decisions)
	})

	It("passes the status filter through", func() {
		var got *model.DecisionStatus
		decisions.listFn = func(_ context.Context, status *model.DecisionStatus) ([]model.Decision, error) {
			got = status
			return []model.Decision{{ID: "d-1", Status: model.DecisionStatusPending}}, nil
		}

		status := model.DecisionStatusPending
		list, err := svc.List(ctx, &status)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(*got).To(Equal(model.DecisionStatusPending))
	})

	It("returns an empty slice rather than nil", func() {
		list, err := svc.List(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).NotTo(BeNil())
		Expect(list).To(BeEmpty())
	})

	It("rejects unknown statuses", func() {
		status := model.DecisionStatus("archived")
		_, err := svc.List(ctx, &status)
		Expect(errors.Is(err, service.ErrInvalidStatus)).To(BeTrue())
	})
})

var _ = Describe("AgentService", func() {
	var (
		ctx  context.Context
		runs *mockAgentRunStore
		svc  service.AgentService
	)

	BeforeEach(func() {
		ctx = context.Background()
		runs = &mockAgentRunStore{}
		svc = service.NewAgentService(runs)
	})

	It("maps a missing run to ErrAgentNotFound", func() {
		_, err := svc.Get(ctx, "agent_1")
		Expect(errors.Is(err, service.ErrAgentNotFound)).To(BeTrue())
	})

	It("wraps other store errors", func() {
		runs.getFn = func(context.Context, string) (*model.AgentRun, error) {
			return nil, errors.New("boom")
		}
		_, err := svc.Get(ctx, "agent_1")
		Expect(err).To(MatchError(ContainSubstring("boom")))
		Expect(errors.Is(err, store.ErrNotFound)).To(BeFalse())
	})

	It("lists runs", func() {
		runs.listFn = func(context.Context) ([]model.AgentRun, error) {
			return []model.AgentRun{{AgentID: "agent_1"}, {AgentID: "agent_2"}}, nil
		}
		list, err := svc.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
	})
})
