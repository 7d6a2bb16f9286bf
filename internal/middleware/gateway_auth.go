package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/pkg/response"
)

// GatewayAuthMiddleware trusts the X-User-* headers set by a ForwardAuth
// gateway in front of the API.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get(auth.HeaderUserID)
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get(auth.HeaderUserEmail),
			Name:   c.Get(auth.HeaderUserName),
		})
		return c.Next()
	}
}
