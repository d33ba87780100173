package profile

import (
	"context"

	"realtimechat/errs"
	"realtimechat/model"
)

// Uploader stores avatar images.
type Uploader interface {
	Upload(ctx context.Context, owner, contentType string, data []byte) (string, error)
	Resolve(ctx context.Context, ref string) (string, error)
}

type Avatar struct {
	ContentType string
	Data        []byte
}

// Onboard creates the profile of a newly registered account. An avatar is
// mandatory; it is uploaded first and the profile points at its URL.
func (s *Store) Onboard(ctx context.Context, uid, email string, avatar Avatar, uploader Uploader) (model.User, error) {
	if len(avatar.Data) == 0 {
		return model.User{}, errs.Validation("an avatar image is required")
	}
	u, err := model.NewUser(uid, email, "", nil)
	if err != nil {
		return model.User{}, err
	}

	ref, err := uploader.Upload(ctx, u.ID, avatar.ContentType, avatar.Data)
	if err != nil {
		return model.User{}, err
	}
	url, err := uploader.Resolve(ctx, ref)
	if err != nil {
		return model.User{}, err
	}
	u.AvatarRef = &url

	if err := s.Upsert(ctx, u); err != nil {
		return model.User{}, err
	}
	s.opts.Logger.Info().Str("uid", u.ID).Str("handle", u.Handle).Msg("profile onboarded")
	return u, nil
}
