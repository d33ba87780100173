package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtimechat/backend"
	"realtimechat/errs"
)

func TestCurrentWithoutSession(t *testing.T) {
	mem := backend.NewMemory()
	r := NewResolver(mem, nil, zerolog.Nop())

	uid, ok := r.Current(context.Background())
	assert.False(t, ok)
	assert.Empty(t, uid)

	_, err := r.Require(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestCurrentFromSession(t *testing.T) {
	mem := backend.NewMemory()
	session := &Session{}
	r := NewResolver(mem, session, zerolog.Nop())

	session.Set(mem.IssueToken("u1"))
	uid, ok := r.Current(context.Background())
	require.True(t, ok)
	assert.Equal(t, "u1", uid)

	session.Clear()
	_, ok = r.Current(context.Background())
	assert.False(t, ok)
}

func TestContextCredentialWins(t *testing.T) {
	mem := backend.NewMemory()
	session := &Session{}
	session.Set(mem.IssueToken("u1"))
	r := NewResolver(mem, session, zerolog.Nop())

	ctx := WithCredential(context.Background(), mem.IssueToken("u2"))
	uid, err := r.Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u2", uid)
}

func TestRevokedCredential(t *testing.T) {
	mem := backend.NewMemory()
	session := &Session{}
	token := mem.IssueToken("u1")
	session.Set(token)
	r := NewResolver(mem, session, zerolog.Nop())

	mem.RevokeToken(token)
	_, ok := r.Current(context.Background())
	assert.False(t, ok)
}

func TestRequireSurfacesOutage(t *testing.T) {
	outage := errs.Unavailable(errors.New("idp down"))
	r := NewResolver(VerifierFunc(func(context.Context, string) (string, error) {
		return "", outage
	}), nil, zerolog.Nop())
	ctx := WithCredential(context.Background(), "token")

	_, ok := r.Current(ctx)
	assert.False(t, ok)

	_, err := r.Require(ctx)
	assert.ErrorIs(t, err, errs.ErrBackendUnavailable)
}

func TestBlankUIDIsNoIdentity(t *testing.T) {
	r := NewResolver(VerifierFunc(func(context.Context, string) (string, error) {
		return "  ", nil
	}), nil, zerolog.Nop())

	_, err := r.Require(WithCredential(context.Background(), "token"))
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}
