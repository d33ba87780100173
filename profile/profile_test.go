package profile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtimechat/attachment"
	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/model"
)

func noSleep(context.Context, time.Duration) error { return nil }

func seed(t *testing.T, mem *backend.Memory, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, mem.UpsertProfile(context.Background(), model.User{ID: id, Handle: id}))
	}
}

func TestListNeverYieldsExcluded(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	seed(t, mem, "u0", "u1", "u2", "u3", "u4")
	s := New(mem, Options{PageSize: 2, Sleep: noSleep})

	it, err := s.List(ctx, "u1")
	require.NoError(t, err)
	users, err := it.All(ctx)
	require.NoError(t, err)

	var ids []string
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"u0", "u2", "u3", "u4"}, ids)
	assert.NotContains(t, ids, "u1")
}

// excludingBackend ignores the exclusion filter, as a misbehaving backend might.
type excludingBackend struct {
	*backend.Memory
}

func (b excludingBackend) ListProfiles(ctx context.Context, q backend.ProfileQuery) ([]model.User, error) {
	q.Excluding = ""
	return b.Memory.ListProfiles(ctx, q)
}

func TestListFiltersSelfEvenIfBackendDoesNot(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	seed(t, mem, "u1", "u2")
	s := New(excludingBackend{mem}, Options{Sleep: noSleep})

	it, err := s.List(ctx, "u1")
	require.NoError(t, err)
	users, err := it.All(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].ID)
}

func TestListIsASnapshot(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	now := time.Unix(1000, 0)
	mem.Now = func() time.Time { return now }
	seed(t, mem, "a", "b")
	s := New(mem, Options{PageSize: 1, Sleep: noSleep, Now: func() time.Time { return now }})

	it, err := s.List(ctx, "me")
	require.NoError(t, err)
	first, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)

	now = now.Add(time.Minute)
	seed(t, mem, "c")

	rest, err := it.All(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].ID)

	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, Done)

	// restarting takes a fresh snapshot
	again, err := s.List(ctx, "me")
	require.NoError(t, err)
	all, err := again.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestListRequiresCaller(t *testing.T) {
	s := New(backend.NewMemory(), Options{})
	_, err := s.List(context.Background(), " ")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestListRetriesThenSurfacesUnavailable(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	seed(t, mem, "u2")
	mem.Fail(backend.OpListProfiles, errs.Unavailable(errors.New("503")), -1)
	s := New(mem, Options{Sleep: noSleep})

	it, err := s.List(ctx, "u1")
	require.NoError(t, err)
	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, errs.ErrBackendUnavailable)
	assert.Equal(t, 4, mem.Calls(backend.OpListProfiles))
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	seed(t, mem, "u1")
	mem.Fail(backend.OpGetProfile, errs.Unavailable(errors.New("blip")), 1)
	s := New(mem, Options{Sleep: noSleep})

	u, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.Handle)

	_, err = s.Fetch(ctx, "nobody")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = s.Fetch(ctx, "")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	s := New(mem, Options{Sleep: noSleep})
	u := model.User{ID: "u1", Email: "ada@example.com"}

	require.NoError(t, s.Upsert(ctx, u))
	require.NoError(t, s.Upsert(ctx, u))

	got, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Handle)

	it, err := s.List(ctx, "someone")
	require.NoError(t, err)
	all, err := it.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertRejectsMalformed(t *testing.T) {
	s := New(backend.NewMemory(), Options{Sleep: noSleep})
	err := s.Upsert(context.Background(), model.User{ID: "u1"})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestOnboard(t *testing.T) {
	ctx := context.Background()
	mem := backend.NewMemory()
	mem.BaseURL = "https://cdn.example.com"
	s := New(mem, Options{Sleep: noSleep})
	pipeline := attachment.New(mem, mem.Cache(), attachment.Options{Dedup: true, Sleep: noSleep})

	_, err := s.Onboard(ctx, "u1", "ada@example.com", Avatar{}, pipeline)
	assert.ErrorIs(t, err, errs.ErrValidation)

	u, err := s.Onboard(ctx, "u1", "ada@example.com", Avatar{ContentType: "image/png", Data: []byte("png")}, pipeline)
	require.NoError(t, err)
	require.NotNil(t, u.AvatarRef)
	assert.Equal(t, fmt.Sprintf("https://cdn.example.com/v1/attachments/u1/%s", model.ContentHash([]byte("png"))), *u.AvatarRef)

	stored, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", stored.Handle)
	assert.Equal(t, u.AvatarRef, stored.AvatarRef)
}
