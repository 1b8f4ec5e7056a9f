package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-32-bytes-long!!"

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	verifier := NewVerifier(testSecret)

	token, err := issuer.Issue("user-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt, time.Minute)
}

func TestVerifyHeader(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	verifier := NewVerifier(testSecret)

	token, err := issuer.Issue("user-2")
	require.NoError(t, err)

	claims, err := verifier.VerifyHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims.UserID)
}

func TestVerifyHeaderMissing(t *testing.T) {
	verifier := NewVerifier(testSecret)

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		_, err := verifier.VerifyHeader(header)
		assert.ErrorIs(t, err, ErrMissingCredential, "header %q", header)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	verifier := NewVerifier("another-secret-that-does-not-match!!")

	token, err := issuer.Issue("user-3")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyMalformed(t *testing.T) {
	verifier := NewVerifier(testSecret)

	_, err := verifier.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyExpired(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := issuer.Issue("user-4")
	require.NoError(t, err)

	verifier := NewVerifier(testSecret)
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
