package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/model"
)

// Token verification failures. The two kinds are distinct on purpose:
// both map to "unauthenticated", but callers may branch (prompt re-login on
// expiry vs reject outright on a malformed or forged token).
var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

const defaultTokenTTL = 7 * 24 * time.Hour

// TokenClaims represents the claims carried by an access token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// TokenIssuer mints and verifies bearer tokens signed with a server-held
// secret (HS256). Tokens are stateless: nothing is persisted and there is no
// server-side revocation. A refreshed token does not invalidate its
// predecessor, which stays usable until its own expiry.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewTokenIssuer creates a TokenIssuer from config. The signing secret is
// required.
func NewTokenIssuer(cfg config.TokenConfig, opts ...IssuerOption) (*TokenIssuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token signing secret is not configured")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	iss := &TokenIssuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Mint creates a signed token for the identity, valid for the configured
// window. Claims carry {id, email, role}.
func (i *TokenIssuer) Mint(identity *model.Identity) (string, time.Time, error) {
	now := i.now()
	expiry := now.Add(i.ttl)

	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        uuid.New().String(),
		},
		Email: identity.Email,
		Role:  identity.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiry, nil
}

// Verify checks the token signature and expiry and returns the claims.
// Returns ErrTokenExpired only when the token is well-formed and properly
// signed but past its expiry; every other failure is ErrTokenInvalid.
func (i *TokenIssuer) Verify(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh re-mints a token from verified claims without re-checking the
// password. The old token remains valid until its own expiry.
func (i *TokenIssuer) Refresh(claims *TokenClaims) (string, time.Time, error) {
	if claims == nil || claims.Subject == "" {
		return "", time.Time{}, ErrTokenInvalid
	}
	return i.Mint(&model.Identity{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	})
}

// OptionalVerify is identical to Verify except that every failure collapses
// to "no identity". It never returns an error; this suppress-all contract is
// intentional and must not be copied onto compliance-critical paths.
func (i *TokenIssuer) OptionalVerify(tokenString string) *TokenClaims {
	claims, err := i.Verify(tokenString)
	if err != nil {
		return nil
	}
	return claims
}

// TTL returns the configured token validity window.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}
