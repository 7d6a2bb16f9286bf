package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// uploadField is the multipart field carrying the audio file.
const uploadField = "audio"

type UploadHandler struct {
	service *service.UploadService
}

func NewUploadHandler(svc *service.UploadService) *UploadHandler {
	return &UploadHandler{service: svc}
}

// Upload handles POST /api/upload
// @Summary      Upload audio
// @Description  Upload a music file for separation
// @Tags         Upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        audio formData file true "Audio file (audio/*; max 100MB)"
// @Success      200 {object} model.UploadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      413 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/upload [post]
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile(uploadField)
	if err != nil {
		return response.ValidationError(c, "No file uploaded", nil)
	}

	if max := h.service.MaxBytes(); max > 0 && file.Size > max {
		return response.PayloadTooLarge(c, "File size exceeds upload limit")
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Upload failed")
	}
	defer f.Close()

	stored, err := h.service.Save(c.UserContext(), file.Filename, file.Header.Get(fiber.HeaderContentType), file.Size, f)
	if err != nil {
		return handleError(c, err)
	}

	return response.OK(c, model.UploadResponse{Success: true, File: stored})
}
