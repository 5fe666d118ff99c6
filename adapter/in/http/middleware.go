package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"mailvault/pkg/apperr"
)

// =============================================================================
// JWT 인증 미들웨어
// =============================================================================

// Claims carried by the service token.
type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the Bearer token and stores user_id and role on the
// request context.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return AppErrorResponse(c, apperr.AuthRequired("missing bearer token"))
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return AppErrorResponse(c, apperr.AuthRequired("invalid token"))
		}
		if claims.UserID == 0 {
			return AppErrorResponse(c, apperr.AuthRequired("token missing user_id"))
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)
		return c.Next()
	}
}

// AdminOnly rejects non-admin callers. Must run after JWTAuth.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsAdmin(c) {
			return AppErrorResponse(c, apperr.Forbidden("admin role required"))
		}
		return c.Next()
	}
}
