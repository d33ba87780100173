package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// Enforcer decides whether a subject may act on an object; casbin enforcers satisfy it.
type Enforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

// RBAC enforces the route policy for the user set by Identity.
func RBAC(enforcer Enforcer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid, _ := c.Locals(LocalUID).(string)
		if uid == "" {
			return unauthenticated(c)
		}

		// Casbin enforces policy
		accepted, err := enforcer.Enforce(uid, c.Path(), c.Method())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"status":  "error",
				"message": "Internal server error",
				"data":    nil,
			})
		}

		if !accepted {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "Forbidden",
				"data":    nil,
			})
		}

		return c.Next()
	}
}
