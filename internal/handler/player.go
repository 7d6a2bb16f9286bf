package handler

import (
	"bufio"
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/playback"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// StreamConfig selects the encoder used by the MP3 stream.
type StreamConfig struct {
	FFmpeg  string
	Bitrate string
}

type PlayerHandler struct {
	sessions  *playback.Manager
	projects  *service.ProjectService
	validator *validator.Validate
	stream    StreamConfig
}

func NewPlayerHandler(sessions *playback.Manager, projects *service.ProjectService, v *validator.Validate, stream StreamConfig) *PlayerHandler {
	return &PlayerHandler{
		sessions:  sessions,
		projects:  projects,
		validator: v,
		stream:    stream,
	}
}

func (h *PlayerHandler) session(c *fiber.Ctx) (*playback.Session, error) {
	return h.sessions.Get(c.Params("id"))
}

// Open handles POST /api/player/sessions
// @Summary      Open player session
// @Description  Decode all stems of a project and open a paused player at 0
// @Tags         Player
// @Accept       json
// @Produce      json
// @Param        request body model.PlayerOpenRequest true "Project to play"
// @Success      201 {object} model.PlaybackState
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Router       /api/player/sessions [post]
func (h *PlayerHandler) Open(c *fiber.Ctx) error {
	var req model.PlayerOpenRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	project, err := h.projects.Get(c.UserContext(), req.ProjectID)
	if err != nil {
		return handleError(c, err)
	}

	s, err := h.sessions.Open(c.UserContext(), project)
	if err != nil {
		return handleError(c, err)
	}

	state, err := s.Engine.State(c.UserContext())
	if err != nil {
		return handleError(c, err)
	}
	return response.Created(c, state)
}

// State handles GET /api/player/sessions/:id
// @Summary      Player state
// @Tags         Player
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} model.PlaybackState
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id} [get]
func (h *PlayerHandler) State(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	state, err := s.Engine.State(c.UserContext())
	if err != nil {
		return handleError(c, err)
	}
	return response.OK(c, state)
}

// Close handles DELETE /api/player/sessions/:id
// @Summary      Close player session
// @Tags         Player
// @Param        id path string true "Session ID"
// @Success      204 "No Content"
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id} [delete]
func (h *PlayerHandler) Close(c *fiber.Ctx) error {
	if err := h.sessions.Close(c.Params("id")); err != nil {
		return handleError(c, err)
	}
	return response.NoContent(c)
}

// Play handles POST /api/player/sessions/:id/play
// @Summary      Play
// @Tags         Player
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} model.PlaybackState
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/play [post]
func (h *PlayerHandler) Play(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return h.reply(c)(s.Engine.Play(c.UserContext()))
}

// Pause handles POST /api/player/sessions/:id/pause
// @Summary      Pause
// @Tags         Player
// @Produce      json
// @Param        id path string true "Session ID"
// @Success      200 {object} model.PlaybackState
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/pause [post]
func (h *PlayerHandler) Pause(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return h.reply(c)(s.Engine.Pause(c.UserContext()))
}

// Seek handles POST /api/player/sessions/:id/seek
// @Summary      Seek
// @Description  Move the playhead; the position is clamped to the track length
// @Tags         Player
// @Accept       json
// @Produce      json
// @Param        id      path string                  true "Session ID"
// @Param        request body model.PlayerSeekRequest true "Position in seconds"
// @Success      200 {object} model.PlaybackState
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/seek [post]
func (h *PlayerHandler) Seek(c *fiber.Ctx) error {
	var req model.PlayerSeekRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return h.reply(c)(s.Engine.Seek(c.UserContext(), *req.Position))
}

// SetVolume handles PUT /api/player/sessions/:id/volume
// @Summary      Master volume
// @Tags         Player
// @Accept       json
// @Produce      json
// @Param        id      path string                    true "Session ID"
// @Param        request body model.PlayerVolumeRequest true "Volume 0-100"
// @Success      200 {object} model.PlaybackState
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/volume [put]
func (h *PlayerHandler) SetVolume(c *fiber.Ctx) error {
	volume, err := h.volume(c)
	if err != nil {
		return bodyError(c, err)
	}

	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return h.reply(c)(s.Engine.SetMasterVolume(c.UserContext(), volume))
}

// SetStemVolume handles PUT /api/player/sessions/:id/stems/:stem/volume
// @Summary      Stem volume
// @Tags         Player
// @Accept       json
// @Produce      json
// @Param        id      path string                    true "Session ID"
// @Param        stem    path string                    true "Stem"
// @Param        request body model.PlayerVolumeRequest true "Volume 0-100"
// @Success      200 {object} model.PlaybackState
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/stems/{stem}/volume [put]
func (h *PlayerHandler) SetStemVolume(c *fiber.Ctx) error {
	stem, ok := parseStem(c)
	if !ok {
		return response.ValidationError(c, "Unknown stem", nil)
	}
	volume, err := h.volume(c)
	if err != nil {
		return bodyError(c, err)
	}

	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return h.reply(c)(s.Engine.SetStemVolume(c.UserContext(), stem, volume))
}

// ToggleMute handles POST /api/player/sessions/:id/stems/:stem/mute
// @Summary      Toggle stem mute
// @Tags         Player
// @Produce      json
// @Param        id   path string true "Session ID"
// @Param        stem path string true "Stem"
// @Success      200 {object} model.PlaybackState
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/stems/{stem}/mute [post]
func (h *PlayerHandler) ToggleMute(c *fiber.Ctx) error {
	stem, ok := parseStem(c)
	if !ok {
		return response.ValidationError(c, "Unknown stem", nil)
	}
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	return h.reply(c)(s.Engine.ToggleMute(c.UserContext(), stem))
}

// Download handles GET /api/player/sessions/:id/stems/:stem/download
// @Summary      Stem download locator
// @Tags         Player
// @Produce      json
// @Param        id   path string true "Session ID"
// @Param        stem path string true "Stem"
// @Success      200 {object} model.StemDownloadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/stems/{stem}/download [get]
func (h *PlayerHandler) Download(c *fiber.Ctx) error {
	stem, ok := parseStem(c)
	if !ok {
		return response.ValidationError(c, "Unknown stem", nil)
	}
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}
	if _, err := s.Engine.Download(stem); err != nil {
		return handleError(c, err)
	}
	result, err := h.projects.StemDownloadFor(c.UserContext(), s.Engine.Project(), stem)
	if err != nil {
		return handleError(c, err)
	}
	return response.OK(c, result)
}

// Stream handles GET /api/player/sessions/:id/stream
// @Summary      Live mix
// @Description  Chunked MP3 of the session's mix as it plays
// @Tags         Player
// @Produce      audio/mpeg
// @Param        id path string true "Session ID"
// @Success      200 {file} binary
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/player/sessions/{id}/stream [get]
func (h *PlayerHandler) Stream(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return handleError(c, err)
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	c.Set(fiber.HeaderCacheControl, "no-cache, no-store")

	listener := s.Output.Subscribe()
	sessionID := s.ID
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer s.Output.Unsubscribe(listener)
		log.Debug().Str("session_id", sessionID).Int("listeners", s.Output.ListenerCount()).Msg("stream listener connected")
		if err := playback.EncodeMP3(context.Background(), h.stream.FFmpeg, h.stream.Bitrate, listener, w); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("stream listener disconnected")
		}
	}))
	return nil
}

var errInvalidBody = errors.New("invalid request body")

func (h *PlayerHandler) volume(c *fiber.Ctx) (int, error) {
	var req model.PlayerVolumeRequest
	if err := c.BodyParser(&req); err != nil {
		return 0, errInvalidBody
	}
	if err := h.validator.Struct(&req); err != nil {
		return 0, err
	}
	return *req.Value, nil
}

func bodyError(c *fiber.Ctx, err error) error {
	if errors.Is(err, errInvalidBody) {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
}

func (h *PlayerHandler) reply(c *fiber.Ctx) func(model.PlaybackState, error) error {
	return func(state model.PlaybackState, err error) error {
		if err != nil {
			return handleError(c, err)
		}
		return response.OK(c, state)
	}
}
