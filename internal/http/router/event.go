package router

import (
	"github.com/gin-gonic/gin"

	"github.com/hpcomplexio/mission-control/internal/http/handler"
)

func EventRouter(rg *gin.RouterGroup, mutating *gin.RouterGroup, h *handler.EventHandler) {
	rg.GET("", h.Stream)
	mutating.POST("", h.Ingest)
}
