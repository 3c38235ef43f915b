package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// Claims is the identity token payload.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 identity tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewTokenVerifier creates a verifier. An empty issuer is not checked.
func NewTokenVerifier(secret, issuer string, leeway time.Duration) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, leeway: leeway}, nil
}

// Verify parses the token and returns the identity it carries.
// Any rejection wraps domain.ErrInvalidToken. A token without email is valid;
// the session treats it as untrackable.
func (v *TokenVerifier) Verify(raw string) (session.Identity, error) {
	if raw == "" {
		return session.Identity{}, fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return session.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !token.Valid {
		return session.Identity{}, fmt.Errorf("%w: token not valid", domain.ErrInvalidToken)
	}
	if claims.Subject == "" {
		return session.Identity{}, fmt.Errorf("%w: missing subject", domain.ErrInvalidToken)
	}

	return session.Identity{UID: claims.Subject, Email: claims.Email}, nil
}

// Sign issues a token for uid and email. Used by the CLI and tests.
func (v *TokenVerifier) Sign(uid, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
