package app

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"availability-service/internal/config"
	appErrors "availability-service/internal/errors"
	"availability-service/internal/response"
)

// ContextSubjectKey holds the authenticated JWT subject. Static service tokens
// leave it unset.
const ContextSubjectKey = "auth_subject"

// AuthMiddleware accepts either an HMAC-signed JWT or one of the configured
// static service tokens.
func AuthMiddleware(cfg config.AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			response.Abort(c, appErrors.ErrUnauthorized.WithMessage("missing authorization"))
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Abort(c, appErrors.ErrUnauthorized.WithMessage("invalid authorization format"))
			return
		}
		tokenStr := parts[1]

		// JWT path
		if len(secret) > 0 {
			var claims jwt.RegisteredClaims
			_, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenMalformed
				}
				return secret, nil
			}, jwt.WithLeeway(5*time.Second))
			if err == nil {
				c.Set(ContextSubjectKey, claims.Subject)
				c.Next()
				return
			}
		}

		// static tokens
		for _, t := range cfg.StaticTokens {
			if tokenStr == t {
				c.Next()
				return
			}
		}

		response.Abort(c, appErrors.ErrUnauthorized.WithMessage("invalid token"))
	}
}

// RequireOwner rejects JWT callers acting on another user's :id. Static
// service tokens are trusted for every user.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextSubjectKey)
		if !ok {
			c.Next()
			return
		}
		if subject, _ := v.(string); subject != c.Param("id") {
			response.Abort(c, appErrors.ErrForbidden.WithMessage("cannot manage another user's availability"))
			return
		}
		c.Next()
	}
}
