package controller

import (
	"github.com/gofiber/fiber/v2"

	"realtimechat/attachment"
	"realtimechat/errs"
	"realtimechat/profile"
)

type AuthSigninInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthSignup registers an account from a multipart form with email, password
// and an avatar image, then creates its profile.
func (h *Controller) AuthSignup(c *fiber.Ctx) error {
	email := c.FormValue("email")
	password := c.FormValue("password")

	contentType, data, err := formFile(c, "avatar", attachment.DefaultMaxSize)
	if err != nil {
		return failure(c, err)
	}

	ctx := c.UserContext()
	uid, err := h.accounts.SignUp(ctx, email, password)
	if err != nil {
		return failure(c, err)
	}

	user, err := h.profiles.Onboard(ctx, uid, email, profile.Avatar{ContentType: contentType, Data: data}, h.attachments)
	if err != nil {
		// the account stays; the profile can be completed with PUT /v1/profile
		h.log.Warn().Err(err).Str("uid", uid).Msg("onboarding failed after signup")
		return failure(c, err)
	}

	return success(c, fiber.Map{
		"uid":     uid,
		"profile": user,
	})
}

func (h *Controller) AuthSignin(c *fiber.Ctx) error {
	input := new(AuthSigninInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, errs.Validation("review your input"))
	}

	uid, tokens, err := h.accounts.SignIn(c.UserContext(), input.Email, input.Password)
	if err != nil {
		return failure(c, err)
	}

	return success(c, fiber.Map{
		"uid":     uid,
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
	})
}

func (h *Controller) AuthTokenRenew(c *fiber.Ctx) error {
	renew := new(AuthRenewTokenInput)
	if err := c.BodyParser(renew); err != nil {
		return failure(c, errs.Validation("review your input"))
	}

	tokens, err := h.accounts.Renew(c.UserContext(), renew.RefreshToken)
	if err != nil {
		return failure(c, err)
	}

	return success(c, fiber.Map{
		"access":  tokens.Access,
		"refresh": tokens.Refresh,
	})
}

func (h *Controller) AuthSignout(c *fiber.Ctx) error {
	if err := h.accounts.SignOut(c.UserContext(), caller(c)); err != nil {
		return failure(c, err)
	}
	return success(c, nil)
}
