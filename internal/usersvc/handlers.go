package usersvc

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/avelis/socialmesh/internal/auth"
	"github.com/avelis/socialmesh/internal/httpapi"
	"github.com/avelis/socialmesh/internal/observability"
	"github.com/avelis/socialmesh/internal/ratelimit"
)

// Validation bounds for registration input.
const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6
)

// Service wires the identity HTTP surface to storage and token issuance.
type Service struct {
	store         *Store
	issuer        *auth.Issuer
	logger        observability.Logger
	refreshTTL    time.Duration
	registerLimit ratelimit.Limiter
	newID         func() string
	now           func() time.Time
}

// ServiceOption is a functional option for the identity service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.refreshTTL = ttl
	}
}

// WithRegisterLimiter applies a quota to the registration endpoint.
// Registration is the cheapest way to fill the database, so it gets a
// tighter window than the gateway-wide limit.
func WithRegisterLimiter(limiter ratelimit.Limiter) ServiceOption {
	return func(s *Service) {
		s.registerLimit = limiter
	}
}

// NewService creates the identity service.
func NewService(store *Store, issuer *auth.Issuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		issuer:        issuer,
		logger:        observability.NopLogger(),
		refreshTTL:    7 * 24 * time.Hour,
		registerLimit: ratelimit.NoopLimiter{},
		newID:         uuid.NewString,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the auth routes. These sit in front of the token
// guard by definition: nobody has a token yet.
func (s *Service) Register(r gin.IRouter) {
	group := r.Group("/api/auth")
	group.POST("/register", s.registerUser)
	group.POST("/login", s.login)
	group.POST("/refresh-token", s.refresh)
	group.POST("/logout", s.logout)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) registerUser(c *gin.Context) {
	result, err := s.registerLimit.Allow(c.Request.Context(), ratelimit.ClientKey(c.Request))
	if err == nil && !result.Allowed {
		httpapi.RateLimited(c)
		return
	}

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpapi.Error(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := validateRegistration(req); msg != "" {
		httpapi.Error(c, http.StatusBadRequest, msg)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user := User{
		ID:           s.newID(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	ctx := c.Request.Context()
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			httpapi.Error(c, http.StatusBadRequest, "User already exists")
			return
		}
		s.logger.Error("create user failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(c, user.ID)
	if err != nil {
		return
	}

	s.logger.Info("user registered",
		observability.String("userId", user.ID),
		observability.String("username", user.Username))
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "User created successfully",
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		httpapi.Error(c, http.StatusBadRequest, "Email and password are required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.store.UserByEmail(ctx, req.Email)
	if errors.Is(err, ErrUserNotFound) {
		httpapi.Error(c, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("lookup user failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if err := VerifyPassword(req.Password, user.PasswordHash); err != nil {
		httpapi.Error(c, http.StatusBadRequest, "Invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(c, user.ID)
	if err != nil {
		return
	}

	s.logger.Info("user logged in", observability.String("userId", user.ID))
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"userId":       user.ID,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Service) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		httpapi.Error(c, http.StatusBadRequest, "Refresh token missing")
		return
	}

	ctx := c.Request.Context()
	stored, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, ErrTokenNotFound) || (err == nil && stored.ExpiresAt.Before(s.now())) {
		httpapi.Error(c, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	if err != nil {
		s.logger.Error("lookup refresh token failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user, err := s.store.UserByID(ctx, stored.UserID)
	if errors.Is(err, ErrUserNotFound) {
		httpapi.Error(c, http.StatusUnauthorized, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("lookup user failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(c, user.ID)
	if err != nil {
		return
	}

	// Rotation: the presented token is single-use.
	if err := s.store.DeleteRefreshToken(ctx, stored.Token); err != nil {
		s.logger.Warn("retire refresh token failed", observability.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

func (s *Service) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		httpapi.Error(c, http.StatusBadRequest, "Refresh token missing")
		return
	}

	err := s.store.DeleteRefreshToken(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, ErrTokenNotFound) {
		httpapi.Error(c, http.StatusBadRequest, "Invalid refresh token")
		return
	}
	if err != nil {
		s.logger.Error("delete refresh token failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out successfully!",
	})
}

// issueTokens signs an access token and stores a fresh refresh token.
// On failure it writes the 500 response and returns a non-nil error.
func (s *Service) issueTokens(c *gin.Context, userID string) (accessToken, refreshToken string, err error) {
	accessToken, err = s.issuer.Issue(userID)
	if err != nil {
		s.logger.Error("issue access token failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return "", "", err
	}

	refreshToken, err = newRefreshToken()
	if err != nil {
		s.logger.Error("generate refresh token failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return "", "", err
	}

	err = s.store.SaveRefreshToken(c.Request.Context(), RefreshToken{
		Token:     refreshToken,
		UserID:    userID,
		ExpiresAt: s.now().Add(s.refreshTTL),
	})
	if err != nil {
		s.logger.Error("save refresh token failed", observability.Error(err))
		httpapi.Error(c, http.StatusInternalServerError, "Internal Server Error")
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 40)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validateRegistration(req registerRequest) string {
	if len(req.Username) < minUsernameLen || len(req.Username) > maxUsernameLen {
		return fmt.Sprintf("Username must be between %d and %d characters", minUsernameLen, maxUsernameLen)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "A valid email is required"
	}
	if len(req.Password) < minPasswordLen {
		return fmt.Sprintf("Password must be at least %d characters", minPasswordLen)
	}
	return ""
}
