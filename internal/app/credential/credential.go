// Package credential signs and verifies the short lived session tokens that
// admit a connection to the match endpoint.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Duet/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrEmptySecret  = errors.New("empty signing secret")
)

// Claims is the token payload. Older tokens carry session_id instead of sid.
type Claims struct {
	SID       string `json:"sid,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Session returns whichever session field the token carries.
func (c *Claims) Session() domain.SessionID {
	if c.SID != "" {
		return domain.SessionID(c.SID)
	}
	return domain.SessionID(c.SessionID)
}

// Signer issues and checks HS256 tokens. A zero TTL issues tokens without exp.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Signer) Sign(sid domain.SessionID) (string, error) {
	now := s.now()
	claims := Claims{
		SID: string(sid),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify fails with ErrUnauthorized for any bad, expired or sessionless token.
func (s *Signer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if claims.Session() == "" {
		return nil, fmt.Errorf("%w: no session in token", ErrUnauthorized)
	}
	return claims, nil
}
