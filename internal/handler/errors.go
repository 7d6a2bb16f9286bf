package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/jobstore"
	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/playback"
	"github.com/stemsplit/api/internal/projectstore"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// formatValidationErrors maps validator failures to field -> tag.
func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

func parseStem(c *fiber.Ctx) (model.Stem, bool) {
	return model.ParseStem(strings.ToLower(c.Params("stem")))
}

// handleError maps service errors to the response envelope. Anything not
// recognized is logged and reported as a service error.
func handleError(c *fiber.Ctx, err error) error {
	var loadErr *playback.LoadError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return response.ValidationError(c, "File ID and project name are required", map[string]string{"reason": err.Error()})
	case errors.Is(err, service.ErrFileNotFound):
		return response.NotFound(c, "File not found")
	case errors.Is(err, jobstore.ErrNotFound):
		return response.NotFound(c, "Progress not found")
	case errors.Is(err, projectstore.ErrNotFound):
		return response.NotFound(c, "Project not found")
	case errors.Is(err, playback.ErrSessionNotFound), errors.Is(err, playback.ErrEngineClosed):
		return response.NotFound(c, "Player session not found")
	case errors.Is(err, service.ErrUnknownStem), errors.Is(err, playback.ErrUnknownStem):
		return response.ValidationError(c, "Unknown stem", nil)
	case errors.As(err, &loadErr):
		return response.LoadError(c, loadErr.Error(), map[string]string{"stem": string(loadErr.Stem)})
	case errors.Is(err, playback.ErrTooManySessions):
		return response.Conflict(c, "Too many player sessions")
	case errors.Is(err, service.ErrNoFile):
		return response.ValidationError(c, "No file uploaded", nil)
	case errors.Is(err, service.ErrUnsupportedMedia):
		return response.ValidationError(c, "Only audio files are allowed!", nil)
	case errors.Is(err, service.ErrFileTooLarge):
		return response.PayloadTooLarge(c, "File size exceeds upload limit")
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return response.ServiceError(c, "Internal server error")
}
