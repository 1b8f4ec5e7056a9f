package usersvc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelis/socialmesh/internal/auth"
	"github.com/avelis/socialmesh/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "test-secret-please-rotate"

func newFixture(t *testing.T, opts ...ServiceOption) (*Service, *gin.Engine) {
	t.Helper()

	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(store, auth.NewIssuer(testSecret, time.Hour), opts...)
	router := gin.New()
	svc.Register(router)
	return svc, router
}

func post(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

func register(t *testing.T, router *gin.Engine, username, email string) tokenPair {
	t.Helper()

	w := post(t, router, "/api/auth/register", gin.H{
		"username": username,
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pair tokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func TestRegisterIssuesVerifiableToken(t *testing.T) {
	_, router := newFixture(t)

	pair := register(t, router, "alice", "alice@example.com")

	claims, err := auth.NewVerifier(testSecret).Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.UserID)
}

func TestRegisterValidation(t *testing.T) {
	_, router := newFixture(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"short username", gin.H{"username": "ab", "email": "a@b.com", "password": "hunter22"}},
		{"bad email", gin.H{"username": "alice", "email": "not-an-email", "password": "hunter22"}},
		{"short password", gin.H{"username": "alice", "email": "a@b.com", "password": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, router, "/api/auth/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	_, router := newFixture(t)

	register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/register", gin.H{
		"username": "alice",
		"email":    "other@example.com",
		"password": "hunter22",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "User already exists")
}

func TestRegisterRateLimited(t *testing.T) {
	_, router := newFixture(t, WithRegisterLimiter(ratelimit.NewMemoryLimiter(1, 15*time.Minute)))

	register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/register", gin.H{
		"username": "bob",
		"email":    "bob@example.com",
		"password": "hunter22",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestLogin(t *testing.T) {
	_, router := newFixture(t)

	register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/login", gin.H{
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var pair tokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.UserID)
}

func TestLoginInvalidCredentials(t *testing.T) {
	_, router := newFixture(t)

	register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/login", gin.H{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(t, router, "/api/auth/login", gin.H{
		"email":    "nobody@example.com",
		"password": "hunter22",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	_, router := newFixture(t)

	pair := register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rotated tokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old token is single-use.
	w = post(t, router, "/api/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshExpiredToken(t *testing.T) {
	svc, router := newFixture(t)
	svc.refreshTTL = -time.Minute

	pair := register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshMissingToken(t *testing.T) {
	_, router := newFixture(t)

	w := post(t, router, "/api/auth/refresh-token", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout(t *testing.T) {
	_, router := newFixture(t)

	pair := register(t, router, "alice", "alice@example.com")

	w := post(t, router, "/api/auth/logout", gin.H{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	// The token is gone; logging out again is an error.
	w = post(t, router, "/api/auth/logout", gin.H{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// And it can no longer be used to refresh.
	w = post(t, router, "/api/auth/refresh-token", gin.H{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pw")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	assert.NoError(t, VerifyPassword("s3cret-pw", hash))
	assert.ErrorIs(t, VerifyPassword("wrong", hash), ErrHashMismatch)
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	err := VerifyPassword("pw", "not-a-hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHashMismatch)
}
