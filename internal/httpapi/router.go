// Package httpapi wires the bootstrap REST surface and the WebSocket
// upgrade endpoint onto a gin router, per spec.md §6.
package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/marnikitta/livecoding/internal/config"
	"github.com/marnikitta/livecoding/internal/registry"
)

// NewRouter builds the gin engine serving every route spec.md §6
// enumerates, using reg for room lookup/creation and cfg for CORS policy
// and the values baked into bootstrap responses.
func NewRouter(cfg *config.Config, reg *registry.Registry, startedAt time.Time) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}
	if cfg.Environment == config.Development {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.AllowedOrigin}
	}
	router.Use(cors.New(corsConfig))

	h := &Handler{cfg: cfg, reg: reg, startedAt: startedAt}

	router.POST("/resource/room", h.CreateRoom)
	router.GET("/resource/room/:roomId", h.GetRoom)
	router.GET("/resource/room/:roomId/ws", h.ConnectRoom)
	router.GET("/resource/intro.js", h.IntroJS)

	return router
}
