package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/orchestrator/internal/auth"
	"github.com/makeasinger/orchestrator/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string
}

// NewAuthMiddleware creates auth middleware. Tokens are checked against the
// JWKS verifier first and HMAC second; verifier may be nil.
func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, jwtSecret: jwtSecret}
}

// Authenticate validates JWT token from Authorization header. The WebSocket
// route may pass the token as ?token= since browsers cannot set headers there.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.verifier == nil && m.jwtSecret == "" {
			return response.Unauthorized(c, "Authentication not configured")
		}

		tokenString := c.Query("token")
		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return response.Unauthorized(c, "Invalid authorization header format")
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		claims, err := auth.ValidateAny(tokenString, m.verifier, m.jwtSecret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("requesterId", claims.UserID)
		c.Locals("email", claims.Email)
		return c.Next()
	}
}

// GetRequesterID extracts the authenticated requester from context
func GetRequesterID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requesterId").(string); ok {
		return id
	}
	return ""
}
