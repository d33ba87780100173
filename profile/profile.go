// Package profile reads and writes user profile records in the document store.
package profile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/model"
	"realtimechat/retry"
)

// Done is returned by Iterator.Next once the listing is exhausted.
var Done = errors.New("profile: no more profiles")

const defaultPageSize = 50

type Options struct {
	PageSize int
	Policy   retry.Policy
	Sleep    retry.Sleeper
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Store struct {
	docs backend.Documents
	opts Options
}

func New(docs backend.Documents, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Policy == (retry.Policy{}) {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{docs: docs, opts: opts}
}

func (s *Store) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.opts.Policy, fn,
		retry.WithSleeper(s.opts.Sleep),
		retry.WithLogger(s.opts.Logger, op),
	).Err()
}

// Fetch reads a single profile.
func (s *Store) Fetch(ctx context.Context, id string) (model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.User{}, errs.Validation("profile id is required")
	}
	var u model.User
	err := s.do(ctx, "profile.fetch", func(ctx context.Context) error {
		var err error
		u, err = s.docs.GetProfile(ctx, id)
		return err
	})
	return u, err
}

// Upsert writes u keyed by its id. Writing the same record twice is a no-op.
func (s *Store) Upsert(ctx context.Context, u model.User) error {
	valid, err := model.NewUser(u.ID, u.Email, u.Handle, u.AvatarRef)
	if err != nil {
		return err
	}
	return s.do(ctx, "profile.upsert", func(ctx context.Context) error {
		return s.docs.UpsertProfile(ctx, valid)
	})
}

// List starts a listing of every profile but excluding. Each call takes a new
// snapshot; profiles created after it are not returned.
func (s *Store) List(ctx context.Context, excluding string) (*Iterator, error) {
	excluding = strings.TrimSpace(excluding)
	if excluding == "" {
		return nil, errs.Validation("listing profiles needs the caller's id")
	}
	return &Iterator{store: s, excluding: excluding, asOf: s.opts.Now()}, ctx.Err()
}

// Iterator pages through a profile listing. It is not safe for concurrent use.
type Iterator struct {
	store     *Store
	excluding string
	asOf      time.Time
	after     string
	page      []model.User
	exhausted bool
}

// Next returns the next profile, or Done.
func (it *Iterator) Next(ctx context.Context) (model.User, error) {
	for len(it.page) == 0 {
		if it.exhausted {
			return model.User{}, Done
		}
		if err := it.fetch(ctx); err != nil {
			return model.User{}, err
		}
	}
	u := it.page[0]
	it.page = it.page[1:]
	return u, nil
}

func (it *Iterator) fetch(ctx context.Context) error {
	q := backend.ProfileQuery{
		Excluding: it.excluding,
		After:     it.after,
		AsOf:      it.asOf,
		Limit:     it.store.opts.PageSize,
	}
	var page []model.User
	err := it.store.do(ctx, "profile.list", func(ctx context.Context) error {
		var err error
		page, err = it.store.docs.ListProfiles(ctx, q)
		return err
	})
	if err != nil {
		return err
	}
	if len(page) < q.Limit {
		it.exhausted = true
	}
	if len(page) > 0 {
		it.after = page[len(page)-1].ID
	}
	for _, u := range page {
		if u.ID != it.excluding {
			it.page = append(it.page, u)
		}
	}
	return nil
}

// All drains the iterator.
func (it *Iterator) All(ctx context.Context) ([]model.User, error) {
	var out []model.User
	for {
		u, err := it.Next(ctx)
		if errors.Is(err, Done) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, u)
	}
}
