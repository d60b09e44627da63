package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

type authUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time, revokeRefresh bool) error
	UpdateRefreshToken(ctx context.Context, id string, token *string) error
	RotateRefreshToken(ctx context.Context, id, expected, next string) (bool, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type profileCache interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SetProfile(ctx context.Context, profile models.UserProfile) error
	InvalidateProfile(ctx context.Context, userID string) error
}

type authEventRecorder interface {
	RecordAuthEvent(event, outcome string)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret      string
	AccessTokenExpiry      time.Duration
	RefreshTokenSecret     string
	RefreshTokenExpiry     time.Duration
	Issuer                 string
	RevokeOnPasswordChange bool
	BcryptCost             int
}

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithClock overrides the time source used for token issuance and verification.
func WithClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuthMetrics records login, refresh and verification outcomes.
func WithAuthMetrics(recorder authEventRecorder) AuthOption {
	return func(s *AuthService) {
		s.metrics = recorder
	}
}

// AuthService owns the access/refresh token lifecycle.
type AuthService struct {
	repo      authUserRepository
	cache     profileCache
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	signer    *TokenSigner
	now       func() time.Time
	metrics   authEventRecorder

	dummyHashOnce sync.Once
	dummyHash     []byte
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, cache profileCache, validate *validator.Validate, logger *zap.Logger, config AuthConfig, opts ...AuthOption) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	s := &AuthService{repo: repo, cache: cache, validator: validate, logger: logger, config: config, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.signer = NewTokenSigner(config.Issuer, s.now)
	return s
}

// Login checks the password of the user identified by username or email and issues a token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	if strings.TrimSpace(req.Username) == "" && strings.TrimSpace(req.Email) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "username or email is required")
	}

	user, err := s.repo.FindByUsernameOrEmail(ctx, req.Username, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.burnPasswordCheck(req.Password)
			s.record("login", "invalid_credentials")
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.record("login", "invalid_credentials")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	pair, err := s.issueFor(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, user.ID, models.AuditActionLogin, map[string]string{"status": "success"}, models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent})
	s.record("login", "success")

	return &models.LoginResponse{
		User:         user.Profile(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
	}, nil
}

// Issue mints a token pair for the user and stores the refresh token before returning it.
func (s *AuthService) Issue(ctx context.Context, userID string) (*models.TokenPair, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return s.issueFor(ctx, user)
}

func (s *AuthService) issueFor(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	pair, err := s.mintPair(user)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRefreshToken(ctx, user.ID, &pair.RefreshToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	return pair, nil
}

func (s *AuthService) mintPair(user *models.User) (*models.TokenPair, error) {
	access := s.signer.Registered(user.ID, s.config.AccessTokenExpiry)
	accessToken, err := s.signer.Sign(&models.AccessClaims{
		UserID:           user.ID,
		Email:            user.Email,
		Username:         user.Username,
		FullName:         user.FullName,
		RegisteredClaims: access,
	}, s.config.AccessTokenSecret)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refresh := s.signer.Registered(user.ID, s.config.RefreshTokenExpiry)
	refreshToken, err := s.signer.Sign(&models.RefreshClaims{
		UserID:           user.ID,
		RegisteredClaims: refresh,
	}, s.config.RefreshTokenSecret)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	return &models.TokenPair{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		AccessTokenExpiresAt:  access.ExpiresAt.Time,
		RefreshTokenExpiresAt: refresh.ExpiresAt.Time,
	}, nil
}

// VerifyAccess validates an access token and resolves the user it was issued for.
func (s *AuthService) VerifyAccess(ctx context.Context, token string) (*models.UserProfile, error) {
	if token == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	var claims models.AccessClaims
	if err := s.signer.Verify(token, s.config.AccessTokenSecret, &claims); err != nil {
		s.record("verify", "rejected")
		return nil, accessTokenError(err)
	}
	if claims.UserID == "" {
		s.record("verify", "rejected")
		return nil, appErrors.Clone(appErrors.ErrMalformedCredential, "")
	}

	profile, err := s.loadProfile(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.record("verify", "user_not_found")
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return profile, nil
}

func (s *AuthService) loadProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if s.cache != nil {
		cached, err := s.cache.GetProfile(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("profile cache lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := user.Profile()
	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, profile); err != nil {
			s.logger.Warn("profile cache store failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return &profile, nil
}

func accessTokenError(err error) *appErrors.Error {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
	case errors.Is(err, ErrTokenSignatureInvalid):
		return appErrors.Wrap(err, appErrors.ErrSignatureInvalid.Code, appErrors.ErrSignatureInvalid.Status, appErrors.ErrSignatureInvalid.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrMalformedCredential.Code, appErrors.ErrMalformedCredential.Status, appErrors.ErrMalformedCredential.Message)
	}
}

// Refresh exchanges the user's current refresh token for a new pair. Presenting
// any value other than the stored one fails with REFRESH_TOKEN_REUSED.
func (s *AuthService) Refresh(ctx context.Context, presented string, meta models.RequestMeta) (*models.TokenPair, error) {
	if presented == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	var claims models.RefreshClaims
	if err := s.signer.Verify(presented, s.config.RefreshTokenSecret, &claims); err != nil {
		s.record("refresh", "invalid")
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRefreshToken.Code, appErrors.ErrInvalidRefreshToken.Status, appErrors.ErrInvalidRefreshToken.Message)
	}

	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.record("refresh", "invalid")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if user.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(presented)) != 1 {
		s.record("refresh", "reused")
		s.logger.Warn("stale refresh token presented", zap.String("user_id", user.ID), zap.String("ip", meta.IP))
		return nil, appErrors.Clone(appErrors.ErrRefreshTokenReused, "")
	}

	pair, err := s.mintPair(user)
	if err != nil {
		return nil, err
	}

	rotated, err := s.repo.RotateRefreshToken(ctx, user.ID, presented, pair.RefreshToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	if !rotated {
		s.record("refresh", "reused")
		return nil, appErrors.Clone(appErrors.ErrRefreshTokenReused, "")
	}

	s.audit(ctx, user.ID, models.AuditActionTokenRefresh, map[string]string{"refresh": "rotated"}, meta)
	s.record("refresh", "success")
	return pair, nil
}

// Revoke clears the stored refresh token. Revoking twice is not an error.
func (s *AuthService) Revoke(ctx context.Context, userID string, meta models.RequestMeta) error {
	if err := s.repo.UpdateRefreshToken(ctx, userID, nil); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	s.audit(ctx, userID, models.AuditActionLogout, map[string]string{"status": "logout"}, meta)
	s.record("logout", "success")
	return nil
}

// ChangePassword replaces the password after checking the old one.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "old password does not match")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.config.BcryptCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	// The hash and the refresh token change in one statement so they cannot diverge.
	if err := s.repo.UpdatePassword(ctx, userID, string(newHash), s.now().UTC(), s.config.RevokeOnPasswordChange); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.audit(ctx, userID, models.AuditActionPasswordChange, map[string]string{"status": "changed"}, meta)
	return nil
}

// burnPasswordCheck spends a bcrypt comparison so unknown users cost as much as wrong passwords.
func (s *AuthService) burnPasswordCheck(password string) {
	s.dummyHashOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("account-api-placeholder"), s.config.BcryptCost)
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
	}
}

func (s *AuthService) audit(ctx context.Context, userID, action string, values map[string]string, meta models.RequestMeta) {
	payload, _ := json.Marshal(values)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuthService) record(event, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthEvent(event, outcome)
	}
}
