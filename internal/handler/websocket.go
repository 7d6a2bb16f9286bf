package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/playback"
	"github.com/stemsplit/api/internal/service"
	ws "github.com/stemsplit/api/internal/websocket"
)

// WebSocketHandler subscribes clients to job progress and player state.
type WebSocketHandler struct {
	hub        *ws.Hub
	separation *service.SeparationService
	sessions   *playback.Manager
}

func NewWebSocketHandler(hub *ws.Hub, separation *service.SeparationService, sessions *playback.Manager) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, separation: separation, sessions: sessions}
}

// Upgrade rejects plain HTTP requests on websocket routes.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Jobs serves /ws/jobs/:jobId. The current progress is sent on connect.
func (h *WebSocketHandler) Jobs() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")

		var initial interface{}
		if p, err := h.separation.Progress(context.Background(), jobID); err == nil {
			initial = model.WSProgressMessage{
				Type:     model.WSMessageTypeProgress,
				JobID:    jobID,
				Progress: p.Progress,
				Status:   p.Status,
				Message:  p.Message,
			}
		}
		h.hub.HandleConnection(c, ws.JobTopic(jobID), initial)
	})
}

// Player serves /ws/player/:sessionId. The current state is sent on connect.
func (h *WebSocketHandler) Player() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionId")

		var initial interface{}
		if s, err := h.sessions.Get(sessionID); err == nil {
			if state, err := s.Engine.State(context.Background()); err == nil {
				initial = model.WSPlaybackMessage{Type: model.WSMessageTypePlayback, State: state}
			}
		}
		h.hub.HandleConnection(c, ws.SessionTopic(sessionID), initial)
	})
}
