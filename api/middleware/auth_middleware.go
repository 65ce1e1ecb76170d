package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenValidator resolves a session token to the id of an existing user.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	Tokens TokenValidator
}

func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearerToken(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "no token provided")
		}
		if m.Tokens == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		userID, err := m.Tokens.Validate(c.Request().Context(), token)
		if err != nil || userID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		SetAuthContext(c, userID)
		return next(c)
	}
}

func extractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
