package middleware

import (
	"errors"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"realtimechat/errs"
	"realtimechat/identity"
)

// LocalUID is the fiber local holding the caller's user id.
const LocalUID = "uid"

// JWT checks the bearer access token signature and expiry.
func JWT(accessKey []byte) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: jwtware.HS512,
			Key:    accessKey,
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if errors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
				return c.Status(fiber.StatusBadRequest).
					JSON(fiber.Map{
						"status":  "error",
						"message": "Missing or malformed JWT",
						"data":    nil,
					})
			}
			return c.Status(fiber.StatusUnauthorized).
				JSON(fiber.Map{
					"status":  "error",
					"message": "Invalid or expired JWT",
					"data":    nil,
				})
		},
	})
}

// Identity resolves the verified token to a user id and stores it in LocalUID.
// It must run after JWT.
func Identity(resolver *identity.Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals("user").(*jwt.Token)
		if !ok {
			return unauthenticated(c)
		}

		ctx := identity.WithCredential(c.UserContext(), token.Raw)
		uid, err := resolver.Require(ctx)
		if errors.Is(err, errs.ErrUnauthenticated) {
			return unauthenticated(c)
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "error",
				"message": errs.Status(err),
				"data":    nil,
			})
		}

		c.Locals(LocalUID, uid)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func unauthenticated(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"status":  "error",
		"message": errs.Status(errs.ErrUnauthenticated),
		"data":    nil,
	})
}
