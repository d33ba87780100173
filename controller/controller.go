// Package controller holds the REST handlers.
package controller

import (
	"context"
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"realtimechat/attachment"
	"realtimechat/backend"
	"realtimechat/channel"
	"realtimechat/errs"
	"realtimechat/middleware"
	"realtimechat/profile"
	"realtimechat/utils"
)

// Accounts is the credential store behind the auth routes.
type Accounts interface {
	SignUp(ctx context.Context, email, password string) (string, error)
	SignIn(ctx context.Context, email, password string) (string, *utils.Tokens, error)
	Renew(ctx context.Context, refresh string) (*utils.Tokens, error)
	SignOut(ctx context.Context, uid string) error
}

type Controller struct {
	accounts    Accounts
	profiles    *profile.Store
	attachments *attachment.Pipeline
	objects     backend.Objects
	channel     *channel.Channel
	log         zerolog.Logger
}

func New(accounts Accounts, profiles *profile.Store, attachments *attachment.Pipeline, objects backend.Objects, ch *channel.Channel, log zerolog.Logger) *Controller {
	return &Controller{
		accounts:    accounts,
		profiles:    profiles,
		attachments: attachments,
		objects:     objects,
		channel:     ch,
		log:         log.With().Str("component", "rest").Logger(),
	}
}

func success(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    data,
	})
}

func failure(c *fiber.Ctx, err error) error {
	return c.Status(statusCode(err)).JSON(fiber.Map{
		"status":  "error",
		"message": errs.Status(err),
		"data":    nil,
	})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, errs.ErrResolutionFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, errs.ErrBackendUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// caller returns the user id set by middleware.Identity.
func caller(c *fiber.Ctx) string {
	uid, _ := c.Locals(middleware.LocalUID).(string)
	return uid
}

// formFile reads a multipart file, refusing anything over max bytes.
func formFile(c *fiber.Ctx, name string, max int64) (string, []byte, error) {
	fh, err := c.FormFile(name)
	if err != nil {
		return "", nil, errs.Validation("%s file is required", name)
	}
	if fh.Size > max {
		return "", nil, errs.Validation("%s exceeds %d bytes", name, max)
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return "", nil, err
	}
	if int64(len(data)) > max {
		return "", nil, errs.Validation("%s exceeds %d bytes", name, max)
	}
	return fh.Header.Get("Content-Type"), data, nil
}
