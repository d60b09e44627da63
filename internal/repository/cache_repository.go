package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/account-api/internal/models"
	appErrors "github.com/noah-isme/account-api/pkg/errors"
)

const profileKeyPrefix = "account:profile:"

// CacheRecorder receives hit/miss observations for cache lookups.
type CacheRecorder interface {
	RecordCacheOperation(hit bool, duration time.Duration)
	ObserveCacheWrite(duration time.Duration)
}

// CacheRepository caches public user profiles in Redis. A nil client disables caching.
type CacheRepository struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
	recorder CacheRecorder
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, ttl time.Duration, logger *zap.Logger, recorder CacheRecorder) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, ttl: ttl, logger: logger, recorder: recorder}
}

func profileKey(userID string) string {
	return profileKeyPrefix + userID
}

// GetProfile returns the cached profile or appErrors.ErrCacheMiss.
func (r *CacheRepository) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if r.client == nil || r.ttl <= 0 {
		return nil, appErrors.ErrCacheMiss
	}

	start := time.Now()
	raw, err := r.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.record(false, start)
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get profile %s: %w", userID, err)
	}

	var profile models.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		r.record(false, start)
		return nil, fmt.Errorf("unmarshal cached profile %s: %w", userID, err)
	}
	r.record(true, start)
	return &profile, nil
}

// SetProfile stores the profile for the configured TTL.
func (r *CacheRepository) SetProfile(ctx context.Context, profile models.UserProfile) error {
	if r.client == nil || r.ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal profile %s: %w", profile.ID, err)
	}

	start := time.Now()
	if err := r.client.Set(ctx, profileKey(profile.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set profile %s: %w", profile.ID, err)
	}
	if r.recorder != nil {
		r.recorder.ObserveCacheWrite(time.Since(start))
	}
	return nil
}

// InvalidateProfile drops the cached profile so the next lookup hits the database.
func (r *CacheRepository) InvalidateProfile(ctx context.Context, userID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, profileKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete profile %s: %w", userID, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *CacheRepository) record(hit bool, start time.Time) {
	if r.recorder != nil {
		r.recorder.RecordCacheOperation(hit, time.Since(start))
	}
}
