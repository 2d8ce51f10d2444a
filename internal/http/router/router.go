package router

import (
	"github.com/gin-gonic/gin"

	"github.com/hpcomplexio/mission-control/internal/contract"
	"github.com/hpcomplexio/mission-control/internal/http/handler"
	"github.com/hpcomplexio/mission-control/internal/http/middleware"
	"github.com/hpcomplexio/mission-control/internal/service"
)

type RouterConfig struct {
	AuthToken string
	// RateLimiter guards mutating routes; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

type Dependencies struct {
	Services     *service.Services
	Stream       handler.EventStream
	Orchestrator handler.Orchestrator
	Contract     *contract.Contract
}

// SetupRoutes registers every route. Reads are open; mutations need the
// bearer token and are rate limited per client IP.
func SetupRoutes(router *gin.Engine, deps Dependencies, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	guards := []gin.HandlerFunc{middleware.RequireBearer(cfg.AuthToken)}
	if cfg.RateLimiter != nil {
		guards = append(guards, cfg.RateLimiter.Handler())
	}
	mutating := router.Group("", guards...)

	eventHandler := handler.NewEventHandler(deps.Stream, deps.Services.EventIngest())
	EventRouter(router.Group("/events"), mutating.Group("/events"), eventHandler)

	agentHandler := handler.NewAgentHandler(deps.Services.Agents(), deps.Orchestrator)
	AgentRouter(router.Group(""), mutating, agentHandler)

	decisionHandler := handler.NewDecisionHandler(deps.Services.Decisions(), deps.Orchestrator)
	DecisionRouter(router.Group("/decisions"), mutating.Group("/decisions"), decisionHandler)

	contractHandler := handler.NewContractHandler(deps.Contract.Schema())
	router.GET("/contract", contractHandler.Get)
}
