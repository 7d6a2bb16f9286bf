package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// ProjectSessions closes player sessions of a deleted project.
type ProjectSessions interface {
	CloseProject(projectID string) int
}

type ProjectHandler struct {
	service  *service.ProjectService
	sessions ProjectSessions
}

func NewProjectHandler(svc *service.ProjectService, sessions ProjectSessions) *ProjectHandler {
	return &ProjectHandler{service: svc, sessions: sessions}
}

// List handles GET /api/projects
// @Summary      List projects
// @Tags         Projects
// @Produce      json
// @Success      200 {array} model.Project
// @Router       /api/projects [get]
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.List(c.UserContext())
	if err != nil {
		return handleError(c, err)
	}
	return response.OK(c, projects)
}

// Get handles GET /api/projects/:id
// @Summary      Get project
// @Tags         Projects
// @Produce      json
// @Param        id path string true "Project ID"
// @Success      200 {object} model.Project
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/projects/{id} [get]
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	project, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}
	return response.OK(c, project)
}

// Delete handles DELETE /api/projects/:id
// @Summary      Delete project
// @Description  Remove the project with its separated stems and original upload
// @Tags         Projects
// @Produce      json
// @Param        id path string true "Project ID"
// @Success      200 {object} map[string]bool
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/projects/{id} [delete]
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(c.UserContext(), id); err != nil {
		return handleError(c, err)
	}
	if h.sessions != nil {
		if n := h.sessions.CloseProject(id); n > 0 {
			log.Info().Str("project_id", id).Int("sessions", n).Msg("closed player sessions of deleted project")
		}
	}
	return response.OK(c, fiber.Map{"success": true})
}

// StemDownload handles GET /api/projects/:id/stems/:stem
// @Summary      Stem download locator
// @Tags         Projects
// @Produce      json
// @Param        id   path string true "Project ID"
// @Param        stem path string true "vocals, drums, bass, guitar or other"
// @Success      200 {object} model.StemDownloadResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /api/projects/{id}/stems/{stem} [get]
func (h *ProjectHandler) StemDownload(c *fiber.Ctx) error {
	stem, ok := parseStem(c)
	if !ok {
		return response.ValidationError(c, "Unknown stem", nil)
	}
	result, err := h.service.StemDownload(c.UserContext(), c.Params("id"), stem)
	if err != nil {
		return handleError(c, err)
	}
	return response.OK(c, result)
}
