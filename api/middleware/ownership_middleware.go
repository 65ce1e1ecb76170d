package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireSelf only lets a user act on the account named by the route param.
// It must run after RequireAuth.
func RequireSelf(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := UserIDFromContext(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if c.Param(param) != userID {
				return echo.NewHTTPError(http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}
