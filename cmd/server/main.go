package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"availability-service/internal/app"
	"availability-service/internal/cache"
	"availability-service/internal/config"
	"availability-service/internal/database"
	"availability-service/internal/logger"
	"availability-service/internal/metrics"
	"availability-service/internal/ratelimit"
	"availability-service/internal/server"
	"availability-service/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		logr.Fatal("failed to init tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to db", zap.Error(err))
	}
	defer pool.Close()

	m := metrics.New()

	var (
		limiter ratelimit.Limiter = ratelimit.NewLocalLimiter(cfg.RateLimit.PerMinute)
		rdb     *redis.Client
	)
	if cfg.Redis.Enabled() {
		rdb, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.PerMinute, time.Minute, "slots")
	}

	store := app.NewStore(pool)
	appInstance := &app.App{
		Slots:    app.NewSlotGenerator(store, cfg.Slots.Location, m, logr),
		Settings: app.NewSettingsService(store, validator.New(), cfg.Slots.Location, logr),
		Calendar: app.NewCalendarService(cfg.Google, logr),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logr.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}
	router.Use(gin.Recovery())
	if len(cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORS.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", "X-Request-ID", "X-Google-Token"},
			ExposeHeaders: []string{"Content-Length", "X-Request-ID", "Retry-After"},
			MaxAge:        12 * time.Hour,
		}))
	}
	router.Use(logger.RequestID())
	router.Use(logger.GinMiddleware(logr))
	router.Use(m.GinMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.ReadyCheck(pool)(checkCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "postgres"})
			return
		}
		if rdb != nil {
			if err := rdb.Ping(checkCtx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "redis"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	appInstance.RegisterRoutes(router,
		app.AuthMiddleware(cfg.Auth),
		ratelimit.Middleware(limiter, m, logr, cfg.RateLimit.FailOpen),
	)

	if err := server.Run(ctx, router, cfg.Port, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}
