package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

type SeparationHandler struct {
	service   *service.SeparationService
	validator *validator.Validate
}

func NewSeparationHandler(svc *service.SeparationService, v *validator.Validate) *SeparationHandler {
	return &SeparationHandler{
		service:   svc,
		validator: v,
	}
}

// Start handles POST /api/separate
// @Summary      Start separation
// @Description  Start an asynchronous stem separation of an uploaded file
// @Tags         Separation
// @Accept       json
// @Produce      json
// @Param        request body model.SeparationStartRequest true "Separation request"
// @Success      200 {object} model.SeparationStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/separate [post]
func (h *SeparationHandler) Start(c *fiber.Ctx) error {
	var req model.SeparationStartRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "File ID and project name are required", formatValidationErrors(err))
	}

	result, err := h.service.Start(c.UserContext(), &req)
	if err != nil {
		return handleError(c, err)
	}

	return response.OK(c, result)
}

// Progress handles GET /api/separate/:fileId/progress
// @Summary      Get separation progress
// @Description  Current status, progress and message of a separation job
// @Tags         Separation
// @Produce      json
// @Param        fileId path string true "Uploaded file ID"
// @Success      200 {object} model.ProgressResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/separate/{fileId}/progress [get]
func (h *SeparationHandler) Progress(c *fiber.Ctx) error {
	result, err := h.service.Progress(c.UserContext(), c.Params("fileId"))
	if err != nil {
		return handleError(c, err)
	}
	return response.OK(c, result)
}
