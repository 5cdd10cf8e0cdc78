package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const userIDKey = "user_id"

type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Identity puts the caller's user id on the context. With a verifier it
// requires a bearer token; without one it trusts X-User-ID, which is only
// wired up in development.
func Identity(verifier TokenVerifier, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			var userID string
			if verifier != nil {
				if token, ok := bearer(c.Request().Header.Get(echo.HeaderAuthorization)); ok {
					id, err := verifier.VerifyToken(token)
					if err != nil {
						return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
					}
					userID = id
				}
			} else {
				userID = strings.TrimSpace(c.Request().Header.Get("X-User-ID"))
			}

			if userID == "" && required {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the id set by Identity, or "".
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
