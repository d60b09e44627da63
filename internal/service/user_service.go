package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/account-api/internal/models"
	"github.com/noah-isme/account-api/internal/repository"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/storage"
)

const (
	mediaKindAvatar = "avatars"
	mediaKindCover  = "covers"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateAccount(ctx context.Context, id string, update models.AccountUpdate) (*models.User, error)
	UpdateAvatar(ctx context.Context, id, url string) (*models.User, error)
	UpdateCoverImage(ctx context.Context, id, url string) (*models.User, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type mediaUploader interface {
	Upload(ctx context.Context, kind string, r io.Reader) (*storage.MediaObject, error)
	Discard(ctx context.Context, obj *storage.MediaObject) error
	DiscardURL(ctx context.Context, url string) error
}

// UserService handles registration and profile maintenance.
type UserService struct {
	repo       userRepository
	media      mediaUploader
	cache      profileCache
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, media mediaUploader, cache profileCache, validate *validator.Validate, logger *zap.Logger, bcryptCost int) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{repo: repo, media: media, cache: cache, validator: validate, logger: logger, bcryptCost: bcryptCost}
}

// Register creates an account. The avatar is required, the cover image is optional.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest, avatar, cover io.Reader) (*models.UserProfile, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	if _, err := s.repo.FindByUsernameOrEmail(ctx, req.Username, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username or email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username uniqueness")
	}

	if avatar == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "avatar is required")
	}

	avatarObj, err := s.media.Upload(ctx, mediaKindAvatar, avatar)
	if err != nil {
		return nil, mediaError(err, "avatar upload failed")
	}

	var coverObj *storage.MediaObject
	if cover != nil {
		coverObj, err = s.media.Upload(ctx, mediaKindCover, cover)
		if err != nil {
			if isMediaRejection(err) {
				s.discard(ctx, avatarObj)
				return nil, mediaError(err, "cover image upload failed")
			}
			s.logger.Warn("cover image upload failed, continuing without it", zap.Error(err))
			coverObj = nil
		}
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		s.discard(ctx, avatarObj, coverObj)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		FullName:     req.FullName,
		Avatar:       avatarObj.URL,
		PasswordHash: string(passwordHash),
	}
	if coverObj != nil {
		user.CoverImage = coverObj.URL
	}

	if err := s.repo.Create(ctx, user); err != nil {
		s.discard(ctx, avatarObj, coverObj)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username or email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.audit(ctx, user.ID, models.AuditActionRegister, map[string]string{"username": user.Username, "email": user.Email}, models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent})

	profile := user.Profile()
	return &profile, nil
}

// UpdateAccount changes the email and/or full name.
func (s *UserService) UpdateAccount(ctx context.Context, userID string, req models.UpdateAccountRequest, meta models.RequestMeta) (*models.UserProfile, error) {
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &email
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		req.FullName = &name
	}
	if req.Email == nil && req.FullName == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email or full name is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}

	if req.Email != nil {
		existing, err := s.repo.FindByUsernameOrEmail(ctx, "", *req.Email)
		switch {
		case err == nil && existing.ID != userID:
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
		}
	}

	user, err := s.repo.UpdateAccount(ctx, userID, models.AccountUpdate{Email: req.Email, FullName: req.FullName})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, userLookupError(err)
	}

	s.invalidate(ctx, userID)
	values := map[string]string{}
	if req.Email != nil {
		values["email"] = *req.Email
	}
	if req.FullName != nil {
		values["full_name"] = *req.FullName
	}
	s.audit(ctx, userID, models.AuditActionAccountUpdate, values, meta)

	profile := user.Profile()
	return &profile, nil
}

// UpdateAvatar replaces the avatar image.
func (s *UserService) UpdateAvatar(ctx context.Context, userID string, file io.Reader, meta models.RequestMeta) (*models.UserProfile, error) {
	return s.replaceImage(ctx, userID, file, mediaKindAvatar, s.repo.UpdateAvatar, func(u *models.User) string { return u.Avatar }, models.AuditActionAvatarUpdate, meta)
}

// UpdateCoverImage replaces the cover image.
func (s *UserService) UpdateCoverImage(ctx context.Context, userID string, file io.Reader, meta models.RequestMeta) (*models.UserProfile, error) {
	return s.replaceImage(ctx, userID, file, mediaKindCover, s.repo.UpdateCoverImage, func(u *models.User) string { return u.CoverImage }, models.AuditActionCoverImageUpdate, meta)
}

func (s *UserService) replaceImage(
	ctx context.Context,
	userID string,
	file io.Reader,
	kind string,
	persist func(ctx context.Context, id, url string) (*models.User, error),
	current func(*models.User) string,
	action string,
	meta models.RequestMeta,
) (*models.UserProfile, error) {
	if file == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "image file is missing")
	}

	existing, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, userLookupError(err)
	}
	previous := current(existing)

	obj, err := s.media.Upload(ctx, kind, file)
	if err != nil {
		return nil, mediaError(err, "image upload failed")
	}

	user, err := persist(ctx, userID, obj.URL)
	if err != nil {
		s.discard(ctx, obj)
		return nil, userLookupError(err)
	}

	if previous != "" && previous != obj.URL {
		if err := s.media.DiscardURL(ctx, previous); err != nil {
			s.logger.Warn("failed to discard replaced media", zap.String("user_id", userID), zap.Error(err))
		}
	}

	s.invalidate(ctx, userID)
	s.audit(ctx, userID, action, map[string]string{"url": obj.URL}, meta)

	profile := user.Profile()
	return &profile, nil
}

func (s *UserService) discard(ctx context.Context, objs ...*storage.MediaObject) {
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		if err := s.media.Discard(ctx, obj); err != nil {
			s.logger.Warn("failed to discard uploaded media", zap.String("key", obj.Key), zap.Error(err))
		}
	}
}

func (s *UserService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProfile(ctx, userID); err != nil {
		s.logger.Warn("failed to invalidate profile cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *UserService) audit(ctx context.Context, userID, action string, values map[string]string, meta models.RequestMeta) {
	payload, _ := json.Marshal(values)
	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "users",
		ResourceID: &userID,
		NewValues:  payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func userLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
}

func isMediaRejection(err error) bool {
	return errors.Is(err, storage.ErrEmptyFile) || errors.Is(err, storage.ErrFileTooLarge) || errors.Is(err, storage.ErrUnsupportedType)
}

func mediaError(err error, message string) error {
	if isMediaRejection(err) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message+": "+err.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrMediaUpload.Code, appErrors.ErrMediaUpload.Status, message)
}
