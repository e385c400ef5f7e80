package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole passes when the caller holds any of roles. Admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasRole(held []string, wanted ...string) bool {
	for _, h := range held {
		if h == RoleAdmin {
			return true
		}
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}

// ActorFromEcho returns the caller's user id, or an HTTP 401 when the
// request reached a handler without one.
func ActorFromEcho(c echo.Context) (string, error) {
	actor := UserIDFromContext(c.Request().Context())
	if actor == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	return actor, nil
}
