package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/lumia-chat/sentinel/internal/dto"
)

// ActionScoped restricts single-action tokens to the fix and verb they
// were minted for. A leaked approve link can then approve exactly one
// fix and nothing else. Operator tokens (no fix_id claim) and the admin
// token header pass through untouched.
func ActionScoped() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok || token == nil {
			// The admin token header skipped JWT validation entirely.
			return c.Next()
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid claims",
			})
		}

		fixID, _ := claims["fix_id"].(string)
		if fixID == "" {
			return c.Next()
		}

		// Route params are not visible in group middleware, so the scope
		// check matches on the path itself.
		action, _ := claims["action"].(string)
		if !strings.HasSuffix(c.Path(), "/fixes/"+fixID+"/"+action) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Message: "Token not valid for this action",
			})
		}
		return c.Next()
	}
}
