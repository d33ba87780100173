package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"realtimechat/errs"
	"realtimechat/model"
	"realtimechat/profile"
)

const maxProfileListLimit = 500

type ProfileUpdateInput struct {
	Handle    string  `json:"handle"`
	AvatarRef *string `json:"avatar_ref"`
}

// ProfileList returns every profile except the caller's.
func (h *Controller) ProfileList(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > maxProfileListLimit {
		return failure(c, errs.Validation("limit must be between 1 and %d", maxProfileListLimit))
	}

	ctx := c.UserContext()
	it, err := h.profiles.List(ctx, caller(c))
	if err != nil {
		return failure(c, err)
	}

	users := make([]model.User, 0, limit)
	for len(users) < limit {
		u, err := it.Next(ctx)
		if errors.Is(err, profile.Done) {
			break
		}
		if err != nil {
			return failure(c, err)
		}
		users = append(users, u)
	}
	return success(c, users)
}

func (h *Controller) ProfileGet(c *fiber.Ctx) error {
	u, err := h.profiles.Fetch(c.UserContext(), c.Params("id"))
	if err != nil {
		return failure(c, err)
	}
	return success(c, u)
}

func (h *Controller) ProfileMe(c *fiber.Ctx) error {
	u, err := h.profiles.Fetch(c.UserContext(), caller(c))
	if err != nil {
		return failure(c, err)
	}
	return success(c, u)
}

// ProfileUpdate changes the caller's handle or avatar. Omitted fields keep
// their stored value.
func (h *Controller) ProfileUpdate(c *fiber.Ctx) error {
	input := new(ProfileUpdateInput)
	if err := c.BodyParser(input); err != nil {
		return failure(c, errs.Validation("review your input"))
	}

	ctx := c.UserContext()
	uid := caller(c)
	current, err := h.profiles.Fetch(ctx, uid)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return failure(c, err)
	}

	handle := input.Handle
	if handle == "" {
		handle = current.Handle
	}
	avatar := input.AvatarRef
	if avatar == nil {
		avatar = current.AvatarRef
	}

	u, err := model.NewUser(uid, current.Email, handle, avatar)
	if err != nil {
		return failure(c, err)
	}
	if err := h.profiles.Upsert(ctx, u); err != nil {
		return failure(c, err)
	}
	return success(c, u)
}
