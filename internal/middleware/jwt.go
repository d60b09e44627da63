package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
	"github.com/noah-isme/account-api/pkg/response"
)

// Cookie names carrying the issued tokens.
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

type profileContextKey struct{}

// AccessVerifier resolves an access token to the profile it belongs to.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*models.UserProfile, error)
}

// WithProfile returns a copy of ctx carrying the authenticated profile.
func WithProfile(ctx context.Context, profile *models.UserProfile) context.Context {
	return context.WithValue(ctx, profileContextKey{}, profile)
}

// ProfileFromContext returns the profile attached by JWT, if any.
func ProfileFromContext(ctx context.Context) (*models.UserProfile, bool) {
	profile, ok := ctx.Value(profileContextKey{}).(*models.UserProfile)
	return profile, ok && profile != nil
}

// JWT protects routes by requiring a valid access token, read from the
// accessToken cookie or a Bearer authorization header.
func JWT(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := accessToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		profile, err := verifier.VerifyAccess(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(WithProfile(c.Request.Context(), profile))
		c.Next()
	}
}

func accessToken(c *gin.Context) (string, error) {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie, nil
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
