package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

type userService interface {
	Register(ctx context.Context, req models.RegisterRequest, avatar, cover io.Reader) (*models.UserProfile, error)
	UpdateAccount(ctx context.Context, userID string, req models.UpdateAccountRequest, meta models.RequestMeta) (*models.UserProfile, error)
	UpdateAvatar(ctx context.Context, userID string, file io.Reader, meta models.RequestMeta) (*models.UserProfile, error)
	UpdateCoverImage(ctx context.Context, userID string, file io.Reader, meta models.RequestMeta) (*models.UserProfile, error)
}

// Multipart field names for uploaded images.
const (
	avatarField     = "avatar"
	coverImageField = "coverImage"
)

// UserHandler handles account registration and profile endpoints.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Register godoc
// @Summary Register user
// @Description Create an account from a multipart form with a required avatar and optional cover image
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Param username formData string true "Username"
// @Param email formData string true "Email"
// @Param fullName formData string true "Full name"
// @Param password formData string true "Password"
// @Param avatar formData file true "Avatar image"
// @Param coverImage formData file false "Cover image"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/register [post]
func (h *UserHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	avatar, err := formFile(c, avatarField)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid avatar upload"))
		return
	}
	var avatarReader io.Reader
	if avatar != nil {
		defer avatar.Close()
		avatarReader = avatar
	}

	cover, err := formFile(c, coverImageField)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid cover image upload"))
		return
	}
	var coverReader io.Reader
	if cover != nil {
		defer cover.Close()
		coverReader = cover
	}

	profile, err := h.service.Register(c.Request.Context(), req, avatarReader, coverReader)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, profile)
}

// UpdateAccount godoc
// @Summary Update account details
// @Description Change email and/or full name of the current user
// @Tags Users
// @Accept json
// @Produce json
// @Param payload body models.UpdateAccountRequest true "Account payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /users/me [patch]
func (h *UserHandler) UpdateAccount(c *gin.Context) {
	profile := profileFromContext(c)
	if profile == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid account payload"))
		return
	}

	updated, err := h.service.UpdateAccount(c.Request.Context(), profile.ID, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}

// UpdateAvatar godoc
// @Summary Replace avatar
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Param avatar formData file true "Avatar image"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/avatar [patch]
func (h *UserHandler) UpdateAvatar(c *gin.Context) {
	h.replaceImage(c, avatarField, h.service.UpdateAvatar)
}

// UpdateCoverImage godoc
// @Summary Replace cover image
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Param coverImage formData file true "Cover image"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/cover-image [patch]
func (h *UserHandler) UpdateCoverImage(c *gin.Context) {
	h.replaceImage(c, coverImageField, h.service.UpdateCoverImage)
}

func (h *UserHandler) replaceImage(
	c *gin.Context,
	field string,
	update func(ctx context.Context, userID string, file io.Reader, meta models.RequestMeta) (*models.UserProfile, error),
) {
	profile := profileFromContext(c)
	if profile == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	file, err := formFile(c, field)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid upload"))
		return
	}
	var reader io.Reader
	if file != nil {
		defer file.Close()
		reader = file
	}

	updated, err := update(c.Request.Context(), profile.ID, reader, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated)
}
