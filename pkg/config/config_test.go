package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := fromViper(newTestViper())
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenExpiry)
	assert.Equal(t, 240*time.Hour, cfg.Auth.RefreshTokenExpiry)
	assert.True(t, cfg.Auth.RevokeOnPasswordChange)
	assert.True(t, cfg.Cookie.Secure)
	assert.Equal(t, MediaDriverLocal, cfg.Media.Driver)
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/webp", "image/gif"}, cfg.Media.AllowedMIMEs)
}

func TestZeroAccessExpiryIsKept(t *testing.T) {
	v := newTestViper()
	v.Set("ACCESS_TOKEN_EXPIRY", "0s")
	cfg := fromViper(v)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(0), cfg.Auth.AccessTokenExpiry)
}

func TestValidateRejectsSharedSecret(t *testing.T) {
	v := newTestViper()
	v.Set("ACCESS_TOKEN_SECRET", "same")
	v.Set("REFRESH_TOKEN_SECRET", "same")
	err := fromViper(v).Validate()
	require.Error(t, err)
}

func TestValidateRejectsDevSecretsInProduction(t *testing.T) {
	v := newTestViper()
	v.Set("ENV", EnvProduction)
	err := fromViper(v).Validate()
	require.Error(t, err)
}

func TestValidateRequiresBucketForS3(t *testing.T) {
	v := newTestViper()
	v.Set("MEDIA_DRIVER", "S3")
	require.Error(t, fromViper(v).Validate())

	v.Set("S3_BUCKET", "avatars")
	require.NoError(t, fromViper(v).Validate())
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}
