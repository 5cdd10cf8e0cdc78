package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// OperatorHeader carries the shared token for operator-only routes.
const OperatorHeader = "X-Ops-Token"

// OperatorToken guards a route with a shared token. An empty token locks the
// route for everyone.
func OperatorToken(token string) echo.MiddlewareFunc {
	return echomw.KeyAuthWithConfig(echomw.KeyAuthConfig{
		KeyLookup: "header:" + OperatorHeader,
		Validator: func(key string, c echo.Context) (bool, error) {
			if token == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "operator token required"})
		},
	})
}
