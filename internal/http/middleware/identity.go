package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"docedit/internal/model"
)

const (
	// UserIDHeader and UserNameHeader carry the caller identity set by the
	// fronting proxy.
	UserIDHeader   = "X-User-ID"
	UserNameHeader = "X-User-Name"

	userLocalKey = "user"
)

// Identity stores the caller from the identity headers. Requests without a
// user id get fallback, or are rejected with 401 when fallback.ID is empty.
func Identity(fallback model.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u := model.User{
			ID:   strings.TrimSpace(c.Get(UserIDHeader)),
			Name: strings.TrimSpace(c.Get(UserNameHeader)),
		}
		if u.ID == "" {
			if fallback.ID == "" {
				return fiber.NewError(fiber.StatusUnauthorized, "missing user identity")
			}
			u = fallback
		}
		if u.Name == "" {
			u.Name = u.ID
		}
		c.Locals(userLocalKey, u)
		return c.Next()
	}
}

// UserFrom returns the caller stored by Identity.
func UserFrom(c *fiber.Ctx) (model.User, bool) {
	u, ok := c.Locals(userLocalKey).(model.User)
	return u, ok
}
