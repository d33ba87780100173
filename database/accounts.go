package database

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"realtimechat/backend"
	"realtimechat/errs"
	"realtimechat/event"
	"realtimechat/utils"
)

const (
	minPasswordLength = 8
	refreshKeyPrefix  = "refresh:"
)

// Credential is the sign-in record behind a user id.
type Credential struct {
	UID          string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time
}

// RoleGranter assigns a role to a user; casbin enforcers satisfy it.
type RoleGranter interface {
	AddGroupingPolicy(params ...interface{}) (bool, error)
}

// Accounts issues and verifies sessions. Refresh tokens are single use: the
// latest one per user is kept in the cache.
type Accounts struct {
	db       *gorm.DB
	tokens   *utils.TokenIssuer
	cache    backend.Cache
	enforcer RoleGranter
	events   event.Emitter
	log      zerolog.Logger

	BcryptCost int
}

// NewAccounts builds Accounts. enforcer and events may be nil.
func NewAccounts(db *gorm.DB, tokens *utils.TokenIssuer, cache backend.Cache, enforcer RoleGranter, events event.Emitter, log zerolog.Logger) *Accounts {
	if events == nil {
		events = event.Nop{}
	}
	return &Accounts{
		db:         db,
		tokens:     tokens,
		cache:      cache,
		enforcer:   enforcer,
		events:     events,
		log:        log,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// SignUp registers email and returns the new user id.
func (a *Accounts) SignUp(ctx context.Context, email, password string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", errs.Validation("email %q is malformed", email)
	}
	if len(password) < minPasswordLength {
		return "", errs.Validation("password must have at least %d characters", minPasswordLength)
	}

	var count int64
	if err := a.db.WithContext(ctx).Model(&Credential{}).Where("email = ?", addr.Address).Count(&count).Error; err != nil {
		return "", classify(err, "account", addr.Address)
	}
	if count > 0 {
		return "", errs.Validation("email is already registered")
	}

	// Generate hash from password.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.BcryptCost)
	if err != nil {
		return "", err
	}

	cred := Credential{
		UID:          uuid.NewString(),
		Email:        addr.Address,
		PasswordHash: string(hash),
		Role:         RoleUser,
	}
	if err := a.db.WithContext(ctx).Create(&cred).Error; err != nil {
		return "", classify(err, "account", cred.Email)
	}

	if a.enforcer != nil {
		if _, err := a.enforcer.AddGroupingPolicy(cred.UID, cred.Role); err != nil {
			a.log.Error().Err(err).Str("uid", cred.UID).Msg("role not granted")
		}
	}
	if err := a.events.Emit(ctx, event.ActionAccountCreated, map[string]string{"uid": cred.UID, "email": cred.Email}); err != nil {
		a.log.Warn().Err(err).Msg("account event not emitted")
	}

	a.log.Info().Str("uid", cred.UID).Msg("account created")
	return cred.UID, nil
}

// SignIn checks the password and starts a session.
func (a *Accounts) SignIn(ctx context.Context, email, password string) (string, *utils.Tokens, error) {
	var cred Credential
	err := a.db.WithContext(ctx).Where("email = ?", strings.TrimSpace(email)).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, errs.ErrUnauthenticated
	}
	if err != nil {
		return "", nil, classify(err, "account", email)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return "", nil, errs.ErrUnauthenticated
	}

	tokens, err := a.issue(ctx, cred.UID)
	if err != nil {
		return "", nil, err
	}
	return cred.UID, tokens, nil
}

// Renew trades the current refresh token for a new pair. Each refresh token works once.
func (a *Accounts) Renew(ctx context.Context, refresh string) (*utils.Tokens, error) {
	claims, err := a.tokens.CheckRefresh(refresh)
	if err != nil {
		return nil, errs.ErrUnauthenticated
	}

	// taking the stored token makes concurrent renewals race for a single winner
	current, err := a.cache.Take(ctx, refreshKeyPrefix+claims.Id)
	if errors.Is(err, backend.ErrCacheMiss) {
		return nil, errs.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if current != refresh {
		// an old token was replayed; the current one is revoked along with it
		a.log.Warn().Str("uid", claims.Id).Msg("refresh token reused, session revoked")
		return nil, errs.ErrUnauthenticated
	}

	return a.issue(ctx, claims.Id)
}

// SignOut revokes the refresh token of uid. Access tokens expire on their own.
func (a *Accounts) SignOut(ctx context.Context, uid string) error {
	return a.cache.Del(ctx, refreshKeyPrefix+uid)
}

// Verify maps an access token to its user id.
func (a *Accounts) Verify(ctx context.Context, access string) (string, error) {
	claims, err := a.tokens.CheckAccess(access)
	if err != nil {
		return "", errs.ErrUnauthenticated
	}
	return claims.Id, nil
}

func (a *Accounts) issue(ctx context.Context, uid string) (*utils.Tokens, error) {
	tokens, err := a.tokens.Generate(uid)
	if err != nil {
		return nil, err
	}
	if err := a.cache.Set(ctx, refreshKeyPrefix+uid, tokens.Refresh, a.tokens.RefreshExpire); err != nil {
		return nil, err
	}
	return tokens, nil
}
