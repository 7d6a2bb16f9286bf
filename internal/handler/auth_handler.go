package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

// Verify handles GET /auth/verify, called by a ForwardAuth gateway.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	id, err := h.authenticator.Authenticate(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set(auth.HeaderUserID, id.UserID)
	if id.Email != "" {
		c.Set(auth.HeaderUserEmail, id.Email)
	}
	if id.Name != "" {
		c.Set(auth.HeaderUserName, id.Name)
	}
	return c.SendStatus(fiber.StatusOK)
}
