package server

import (
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/vnykmshr/kvguard/internal/books"
	"github.com/vnykmshr/kvguard/pkg/ratelimit/slidingwindow"
)

// UserHeader carries the caller's user ID. It stands in for real
// authentication in this demo and must not be exposed as-is.
const UserHeader = "X-User-ID"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// attachUser records a valid user ID for the handlers and the rate limiter.
func attachUser(c echo.Context) bool {
	id := c.Request().Header.Get(UserHeader)
	if !userIDPattern.MatchString(id) {
		return false
	}
	c.Set(books.UserKey, id)
	req := c.Request()
	c.SetRequest(req.WithContext(slidingwindow.WithIdentity(req.Context(), id)))
	return true
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !attachUser(c) {
			return c.JSON(http.StatusUnauthorized, books.Message{Message: "Not authorized, no token"})
		}
		return next(c)
	}
}

func optionalUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		attachUser(c)
		return next(c)
	}
}
