// Package identity maps the opaque session credential to the signed in user's id.
package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"realtimechat/errs"
)

// Verifier checks a credential with the identity provider and returns the user id it was issued for.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, credential string) (string, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (string, error) {
	return f(ctx, credential)
}

// Session holds the credential of the process-wide session.
type Session struct {
	mu         sync.RWMutex
	credential string
}

func (s *Session) Set(credential string) {
	s.mu.Lock()
	s.credential = strings.TrimSpace(credential)
	s.mu.Unlock()
}

func (s *Session) Clear() {
	s.mu.Lock()
	s.credential = ""
	s.mu.Unlock()
}

func (s *Session) Credential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential, s.credential != ""
}

type credentialKey struct{}

// WithCredential scopes a credential to ctx. It takes precedence over the Session.
func WithCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey{}, strings.TrimSpace(credential))
}

func credentialFrom(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(credentialKey{}).(string)
	return c, ok && c != ""
}

type Resolver struct {
	verifier Verifier
	session  *Session
	log      zerolog.Logger
}

// NewResolver builds a Resolver. session may be nil when credentials only arrive through contexts.
func NewResolver(verifier Verifier, session *Session, log zerolog.Logger) *Resolver {
	if session == nil {
		session = &Session{}
	}
	return &Resolver{verifier: verifier, session: session, log: log}
}

func (r *Resolver) Session() *Session { return r.session }

// Current returns the signed in user's id. Any failure, including a missing
// credential, reads as no identity.
func (r *Resolver) Current(ctx context.Context) (string, bool) {
	uid, err := r.resolve(ctx)
	if err != nil {
		return "", false
	}
	return uid, true
}

// Require is Current for callers that must stop before touching the backend.
// Verification outages surface as ErrBackendUnavailable, everything else as ErrUnauthenticated.
func (r *Resolver) Require(ctx context.Context) (string, error) {
	uid, err := r.resolve(ctx)
	switch {
	case err == nil:
		return uid, nil
	case errs.IsTransient(err):
		return "", err
	default:
		return "", errs.ErrUnauthenticated
	}
}

func (r *Resolver) resolve(ctx context.Context) (string, error) {
	credential, ok := credentialFrom(ctx)
	if !ok {
		credential, ok = r.session.Credential()
	}
	if !ok {
		return "", errs.ErrUnauthenticated
	}
	uid, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		r.log.Debug().Err(err).Msg("credential rejected")
		return "", err
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return "", errs.ErrUnauthenticated
	}
	return uid, nil
}
