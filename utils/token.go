package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"realtimechat/config"
)

// Tokens struct to describe tokens object.
type Tokens struct {
	Access  string
	Refresh string
}

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id  string
	Jti string
	Exp int64
}

// TokenIssuer signs and checks HS512 access and refresh tokens.
type TokenIssuer struct {
	AccessKey     []byte
	RefreshKey    []byte
	AccessExpire  time.Duration
	RefreshExpire time.Duration
	Now           func() time.Time
}

func NewTokenIssuer(s config.Settings) *TokenIssuer {
	return &TokenIssuer{
		AccessKey:     []byte(s.JWTAccessKey),
		RefreshKey:    []byte(s.JWTRefreshKey),
		AccessExpire:  s.JWTAccessExpire,
		RefreshExpire: s.JWTRefreshExpire,
		Now:           time.Now,
	}
}

// Generate issues a new access and refresh token pair for id.
func (t *TokenIssuer) Generate(id string) (*Tokens, error) {
	if len(t.AccessKey) == 0 || len(t.RefreshKey) == 0 {
		return nil, errors.New("token signing keys are not configured")
	}

	accessToken, err := t.generate(id, t.AccessExpire, t.AccessKey)
	if err != nil {
		return nil, err
	}
	refreshToken, err := t.generate(id, t.RefreshExpire, t.RefreshKey)
	if err != nil {
		return nil, err
	}

	return &Tokens{
		Access:  accessToken,
		Refresh: refreshToken,
	}, nil
}

func (t *TokenIssuer) generate(id string, expire time.Duration, key []byte) (string, error) {
	claims := jwt.MapClaims{
		"id":  id,
		"jti": uuid.NewString(),
		"exp": t.Now().Add(expire).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(key)
}

func (t *TokenIssuer) CheckAccess(token string) (*TokenMetadata, error) {
	return t.check(token, t.AccessKey)
}

func (t *TokenIssuer) CheckRefresh(token string) (*TokenMetadata, error) {
	return t.check(token, t.RefreshKey)
}

func (t *TokenIssuer) check(token string, key []byte) (*TokenMetadata, error) {
	parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(t.Now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errors.New("token has no expiry")
	}

	return &TokenMetadata{Id: id, Jti: jti, Exp: exp.Unix()}, nil
}
