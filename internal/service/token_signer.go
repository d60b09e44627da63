package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures reported by TokenSigner.Verify.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
)

// TokenSigner signs and verifies HS256 tokens against a caller supplied secret.
type TokenSigner struct {
	issuer string
	now    func() time.Time
}

// NewTokenSigner returns a signer stamping tokens with issuer and reading time from now.
func NewTokenSigner(issuer string, now func() time.Time) *TokenSigner {
	if now == nil {
		now = time.Now
	}
	return &TokenSigner{issuer: issuer, now: now}
}

// Registered builds the standard claims for a token that lives for ttl.
// Every token gets a fresh jti so two tokens minted in the same second differ.
func (s *TokenSigner) Registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	issuedAt := s.now().UTC()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
}

// Sign serialises claims into a compact JWS.
func (s *TokenSigner) Sign(claims jwt.Claims, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret missing")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Verify parses token into claims and reports ErrTokenMalformed,
// ErrTokenSignatureInvalid or ErrTokenExpired on failure.
func (s *TokenSigner) Verify(token, secret string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return classifyJWTError(err)
	}
	if !parsed.Valid {
		return ErrTokenMalformed
	}
	return nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
