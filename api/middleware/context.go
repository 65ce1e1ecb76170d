package middleware

import "github.com/labstack/echo/v4"

const contextUserIDKey = "auth_user_id"

func SetAuthContext(c echo.Context, userID string) {
	c.Set(contextUserIDKey, userID)
}

func UserIDFromContext(c echo.Context) (string, bool) {
	userID, ok := c.Get(contextUserIDKey).(string)
	return userID, ok && userID != ""
}
