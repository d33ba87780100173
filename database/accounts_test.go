package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/event"
	"realtimechat/utils"
)

func newTestAccounts(t *testing.T) (*Accounts, *event.Recorder) {
	t.Helper()
	db := newTestDB(t)
	enforcer, err := Casbin(db)
	require.NoError(t, err)

	issuer := &utils.TokenIssuer{
		AccessKey:     []byte("access"),
		RefreshKey:    []byte("refresh"),
		AccessExpire:  time.Minute,
		RefreshExpire: time.Hour,
		Now:           time.Now,
	}
	events := &event.Recorder{}
	a := NewAccounts(db, issuer, backend.NewMemory().Cache(), enforcer, events, zerolog.Nop())
	a.BcryptCost = bcrypt.MinCost
	return a, events
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	a, events := newTestAccounts(t)

	uid, err := a.SignUp(ctx, "Ada <ada@example.com>", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, uid)
	assert.Equal(t, []string{event.ActionAccountCreated}, events.Actions())

	_, err = a.SignUp(ctx, "ada@example.com", "another password")
	assert.ErrorIs(t, err, errs.ErrValidation)

	signedIn, tokens, err := a.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, uid, signedIn)

	verified, err := a.Verify(ctx, tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, uid, verified)

	_, _, err = a.SignIn(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, _, err = a.SignIn(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestSignUpValidation(t *testing.T) {
	a, _ := newTestAccounts(t)

	_, err := a.SignUp(context.Background(), "not an email", "long enough")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = a.SignUp(context.Background(), "ada@example.com", "short")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRenewIsSingleUse(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAccounts(t)
	_, err := a.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, tokens, err := a.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	renewed, err := a.Renew(ctx, tokens.Refresh)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.Refresh, renewed.Refresh)

	_, err = a.Renew(ctx, tokens.Refresh)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, err = a.Renew(ctx, tokens.Access)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestConcurrentRenewHasOneWinner(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAccounts(t)
	_, err := a.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, tokens, err := a.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Renew(ctx, tokens.Refresh); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestReplayedRefreshRevokesSession(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAccounts(t)
	_, err := a.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, tokens, err := a.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	renewed, err := a.Renew(ctx, tokens.Refresh)
	require.NoError(t, err)
	_, err = a.Renew(ctx, tokens.Refresh)
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, err = a.Renew(ctx, renewed.Refresh)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestSignOutRevokesRefresh(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAccounts(t)
	_, err := a.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	uid, tokens, err := a.SignIn(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	require.NoError(t, a.SignOut(ctx, uid))
	_, err = a.Renew(ctx, tokens.Refresh)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	a, _ := newTestAccounts(t)
	_, err := a.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestSignUpGrantsUserRole(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	enforcer, err := Casbin(db)
	require.NoError(t, err)
	a := NewAccounts(db, &utils.TokenIssuer{AccessKey: []byte("a"), RefreshKey: []byte("r"), Now: time.Now}, backend.NewMemory().Cache(), enforcer, nil, zerolog.Nop())
	a.BcryptCost = bcrypt.MinCost

	uid, err := a.SignUp(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)

	for _, tc := range []struct {
		path, method string
		want         bool
	}{
		{"/v1/profiles", "GET", true},
		{"/v1/profiles/u2", "GET", true},
		{"/v1/profile", "PUT", true},
		{"/v1/attachments", "POST", true},
		{"/v1/conversations/u2/messages", "GET", true},
		{"/v1/conversations", "GET", true},
		{"/v1/conversations", "DELETE", false},
		{"/v1/profiles", "DELETE", false},
		{"/v1/admin/users", "GET", false},
	} {
		ok, err := enforcer.Enforce(uid, tc.path, tc.method)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "%s %s", tc.method, tc.path)
	}

	ok, err := enforcer.Enforce("stranger", "/v1/profiles", "GET")
	require.NoError(t, err)
	assert.False(t, ok)
}
