package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// CallerID returns the authenticated subject, or "" for anonymous requests.
func CallerID(c echo.Context) string {
	if s, ok := c.Get(ContextUserID).(string); ok {
		return s
	}
	return ""
}

// CallerRole returns the role claim of the authenticated caller.
func CallerRole(c echo.Context) string {
	s, _ := c.Get(ContextRole).(string)
	return s
}
