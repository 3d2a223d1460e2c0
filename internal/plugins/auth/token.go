package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keyxmakerx/naturerisk/internal/apperror"
)

// tokenIssuer is the "iss" claim of every token this service signs.
const tokenIssuer = "naturerisk"

// Claims is the JWT payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

// TokenIssuer signs and validates HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret. Use a key of at
// least 32 bytes.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret, now: time.Now}
}

// Issue signs a token for userID with the given scope, valid for ttl.
func (i *TokenIssuer) Issue(userID string, scope Scope, ttl time.Duration) (*IssuedToken, error) {
	now := i.now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	return &IssuedToken{Token: signed, Scope: scope, ExpiresAt: expiresAt}, nil
}

// Parse validates signature, issuer and expiry and returns the session the
// token describes. Expired tokens yield a token_expired error, anything else
// unusable yields unauthorized.
func (i *TokenIssuer) Parse(token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("Missing authorization token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.NewTokenExpired()
		}
		return nil, apperror.NewUnauthorized("Invalid authorization token")
	}

	if claims.Subject == "" || !claims.Scope.Valid() {
		return nil, apperror.NewUnauthorized("Invalid authorization token")
	}

	session := &Session{
		TokenID:   claims.ID,
		UserID:    claims.Subject,
		Scope:     claims.Scope,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return session, nil
}
