package router

import (
	"github.com/gin-gonic/gin"

	"github.com/hpcomplexio/mission-control/internal/http/handler"
)

func DecisionRouter(rg *gin.RouterGroup, mutating *gin.RouterGroup, h *handler.DecisionHandler) {
	rg.GET("", h.List)
	mutating.POST("/:id/resolve", h.Resolve)
}
