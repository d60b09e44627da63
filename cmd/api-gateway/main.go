package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/account-api/api/swagger"
	"github.com/noah-isme/account-api/internal/handler"
	"github.com/noah-isme/account-api/internal/middleware"
	"github.com/noah-isme/account-api/internal/repository"
	"github.com/noah-isme/account-api/internal/service"
	"github.com/noah-isme/account-api/pkg/cache"
	"github.com/noah-isme/account-api/pkg/config"
	"github.com/noah-isme/account-api/pkg/database"
	"github.com/noah-isme/account-api/pkg/jobs"
	"github.com/noah-isme/account-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/account-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/account-api/pkg/middleware/requestid"
	"github.com/noah-isme/account-api/pkg/storage"
)

// @title Account API
// @version 1.0.0
// @description User accounts with JWT access and rotating refresh tokens
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			return err
		}
		logr.Info("database migrations applied")
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, profile cache disabled", zap.Error(err))
		redisClient = nil
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	mediaStore, err := newMediaStore(ctx, cfg.Media)
	if err != nil {
		return fmt.Errorf("init media store: %w", err)
	}
	uploader := storage.NewMediaUploader(mediaStore, cfg.Media.MaxFileSizeBytes, cfg.Media.AllowedMIMEs)
	uploader.StartCleanup(context.WithoutCancel(ctx), jobs.QueueConfig{
		Workers:    2,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	defer uploader.StopCleanup()

	userRepo := repository.NewUserRepository(db, metrics)
	profileCache := repository.NewCacheRepository(redisClient, cfg.Redis.ProfileCacheTTL, logr, metrics)
	defer profileCache.Close() //nolint:errcheck

	authService := service.NewAuthService(userRepo, profileCache, validate, logr, service.AuthConfig{
		AccessTokenSecret:      cfg.Auth.AccessTokenSecret,
		AccessTokenExpiry:      cfg.Auth.AccessTokenExpiry,
		RefreshTokenSecret:     cfg.Auth.RefreshTokenSecret,
		RefreshTokenExpiry:     cfg.Auth.RefreshTokenExpiry,
		Issuer:                 cfg.Auth.Issuer,
		RevokeOnPasswordChange: cfg.Auth.RevokeOnPasswordChange,
		BcryptCost:             cfg.Auth.BcryptCost,
	}, service.WithAuthMetrics(metrics))
	userService := service.NewUserService(userRepo, uploader, profileCache, validate, logr, cfg.Auth.BcryptCost)

	authHandler := handler.NewAuthHandler(authService, handler.CookieOptions{
		Secure:        cfg.Cookie.Secure,
		Domain:        cfg.Cookie.Domain,
		SameSite:      parseSameSite(cfg.Cookie.SameSite),
		AccessMaxAge:  cfg.Auth.AccessTokenExpiry,
		RefreshMaxAge: cfg.Auth.RefreshTokenExpiry,
	})
	userHandler := handler.NewUserHandler(userService)
	metricsHandler := handler.NewMetricsHandler(metrics.Handler(), readinessChecks(db.PingContext, redisClient))

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.Media.MaxFileSizeBytes * 2
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metrics))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if local, ok := mediaStore.(*storage.LocalStorage); ok {
		r.Static("/media", local.Dir())
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	users := api.Group("/users")
	users.POST("/register", userHandler.Register)
	users.POST("/login", authHandler.Login)
	users.POST("/refresh-token", authHandler.Refresh)

	secured := users.Group("")
	secured.Use(middleware.JWT(authService))
	secured.POST("/logout", authHandler.Logout)
	secured.POST("/change-password", authHandler.ChangePassword)
	secured.GET("/me", authHandler.Me)
	secured.PATCH("/me", userHandler.UpdateAccount)
	secured.PATCH("/avatar", userHandler.UpdateAvatar)
	secured.PATCH("/cover-image", userHandler.UpdateCoverImage)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMediaStore(ctx context.Context, cfg config.MediaConfig) (storage.MediaStore, error) {
	if cfg.Driver == config.MediaDriverS3 {
		store, err := storage.NewS3Store(ctx, cfg.S3, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := storage.NewLocalStorage(cfg.LocalDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func readinessChecks(pingDB func(context.Context) error, redisClient *redis.Client) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{"postgres": pingDB}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(value) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
