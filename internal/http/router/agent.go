package router

import (
	"github.com/gin-gonic/gin"

	"github.com/hpcomplexio/mission-control/internal/http/handler"
)

func AgentRouter(rg *gin.RouterGroup, mutating *gin.RouterGroup, h *handler.AgentHandler) {
	rg.GET("/agents", h.List)
	rg.GET("/agents/:id", h.Get)

	mutating.POST("/spawn", h.Spawn)
	mutating.POST("/inject", h.Inject)
}
