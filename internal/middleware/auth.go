package middleware

import (
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"

	"github.com/lumia-chat/sentinel/internal/config"
	"github.com/lumia-chat/sentinel/internal/dto"
)

// JWTProtected guards the admin surface. Tokens arrive either as a
// Bearer header (operator tooling) or as a ?token= query param (the
// approve/reject links embedded in chat messages). A matching
// X-Admin-Token header skips JWT validation entirely.
func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:  jwtware.SigningKey{Key: []byte(cfg.OpsJWTSecret)},
		TokenLookup: "header:Authorization,query:token",
		Filter: func(c *fiber.Ctx) bool {
			return cfg.AdminToken != "" && c.Get("X-Admin-Token") == cfg.AdminToken
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}
