package httpapi

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/marnikitta/livecoding/internal/apperr"
	"github.com/marnikitta/livecoding/internal/config"
	"github.com/marnikitta/livecoding/internal/hub"
	"github.com/marnikitta/livecoding/internal/registry"
	"github.com/marnikitta/livecoding/internal/wire"
)

// Handler holds the dependencies every route needs, threaded in explicitly
// from cmd/livecoding/main.go rather than read from package-level state
// (DESIGN NOTES §9's "global mutable state").
type Handler struct {
	cfg       *config.Config
	reg       *registry.Registry
	startedAt time.Time
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CreateRoom handles POST /resource/room.
func (h *Handler) CreateRoom(c *gin.Context) {
	roomID := h.reg.Create()
	c.JSON(http.StatusOK, wire.CreateRoomResponse{RoomID: roomID})
}

// GetRoom handles GET /resource/room/{roomId}.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	room, err := h.reg.Get(roomID)
	if err != nil {
		apperr.HandleError(c, err)
		return
	}

	heartbit, docLimit := h.cfg.Settings()
	c.JSON(http.StatusOK, wire.GetRoomResponse{
		Events: room.BootstrapView(),
		Settings: wire.RoomSettings{
			HeartbitInterval: heartbit,
			DocumentLimit:    docLimit,
		},
	})
}

// ConnectRoom handles the persistent session at
// GET /resource/room/{roomId}/ws?offset=N.
func (h *Handler) ConnectRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	room, err := h.reg.Get(roomID)
	if err != nil {
		apperr.HandleError(c, err)
		return
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		offset = parsed
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed for room %s: %v", roomID, err)
		return
	}
	defer conn.Close()

	hub.Serve(c.Request.Context(), room, conn, offset)
}

// IntroJS handles GET /resource/intro.js, a small live-stats snippet for
// the landing editor, ported from the original service's f-string intro.js
// response.
func (h *Handler) IntroJS(c *gin.Context) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, renderIntroJS(introStats{
		ActiveRooms:      h.reg.RoomCount(),
		ActiveUsers:      h.reg.ActiveUsers(),
		Uptime:           formatUptime(h.startedAt, time.Now()),
		HeartbitInterval: int(h.cfg.HeartbitInterval.Seconds()),
		DocumentLimit:    h.cfg.DocumentLimit,
		LogOpsThreshold:  h.cfg.LogOpsThreshold,
	}))
}
