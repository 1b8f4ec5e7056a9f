// Package auth implements bearer credential issuance and verification
// against the deployment-wide shared secret. Verification is a pure
// function of the header value and the secret: no I/O, no shared state.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const userIDClaim = "userId"

// Claims is the identity extracted from a verified credential. It is
// attached to the request context for the remainder of the request
// lifetime and never persisted.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs access tokens for authenticated users.
type Issuer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewIssuer creates a token issuer using the shared HS256 secret.
func NewIssuer(secret string, accessTTL time.Duration) *Issuer {
	return &Issuer{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// Issue signs an access token for the given user id.
func (i *Issuer) Issue(userID string) (string, error) {
	now := i.now().Truncate(time.Second)

	tok, err := jwt.NewBuilder().
		Claim(userIDClaim, userID).
		IssuedAt(now).
		Expiration(now.Add(i.accessTTL)).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Verifier validates bearer credentials against the shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a credential verifier using the shared HS256 secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// VerifyHeader extracts the bearer token from an Authorization header
// value and verifies it. An absent or non-bearer header yields
// ErrMissingCredential.
func (v *Verifier) VerifyHeader(header string) (*Claims, error) {
	if header == "" {
		return nil, ErrMissingCredential
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, ErrMissingCredential
	}
	return v.Verify(parts[1])
}

// Verify checks the token signature and expiry and returns the decoded
// identity claim. Any signature mismatch, malformed structure, or expired
// token yields ErrInvalidCredential.
func (v *Verifier) Verify(token string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredential, err)
	}

	raw, ok := tok.Get(userIDClaim)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s claim", ErrInvalidCredential, userIDClaim)
	}
	userID, ok := raw.(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("%w: malformed %s claim", ErrInvalidCredential, userIDClaim)
	}

	return &Claims{
		UserID:    userID,
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}, nil
}
