package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/untibullet/teamhub/internal/audit"
	"github.com/untibullet/teamhub/internal/authz"
	"github.com/untibullet/teamhub/internal/config"
	"github.com/untibullet/teamhub/internal/handlers"
	"github.com/untibullet/teamhub/internal/hierarchy"
	"github.com/untibullet/teamhub/internal/metrics"
	"github.com/untibullet/teamhub/internal/migrate"
	"github.com/untibullet/teamhub/internal/ratelimit"
	"github.com/untibullet/teamhub/internal/repository"
	"github.com/untibullet/teamhub/internal/repository/memory"
	"github.com/untibullet/teamhub/internal/repository/postgres"
	"github.com/untibullet/teamhub/internal/workflow"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting teamhub service",
		zap.String("server_address", cfg.Server.GetAddress()),
		zap.String("storage", cfg.Storage.Driver))

	// Инициализация слоя данных
	repo, err := openRepository(parent, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	limiter, err := openLimiter(parent, cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	if limiter != nil {
		defer limiter.Close()
	}

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return fmt.Errorf("failed to build authorization policy: %w", err)
	}
	m := metrics.New()

	// Инициализация обработчиков
	handler := handlers.New(handlers.Deps{
		Repo:      repo,
		Engine:    workflow.New(repo, enforcer, logger, cfg.Usecase.Timeout),
		Hierarchy: hierarchy.NewService(repo, logger, cfg.Usecase.Timeout),
		Recorder:  audit.NewRecorder(repo, logger),
		Policy:    enforcer,
		Tokens:    authz.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Metrics:   m,
		RateLimit: handlers.RateLimit{
			Limiter:  limiter,
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		},
		Logger: logger,
	})

	// Настройка Echo сервера
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				logger.Info("request",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
				)
			} else {
				logger.Error("request error",
					zap.String("method", c.Request().Method),
					zap.String("uri", v.URI),
					zap.Int("status", v.Status),
					zap.Error(v.Error),
				)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(handler.ObserveRequests)

	// Регистрация роутов
	handler.RegisterRoutes(e)

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)

	// Запуск сервера в горутине
	go func() {
		addr := cfg.Server.GetAddress()
		logger.Info("server listening", zap.String("address", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Ожидание сигнала завершения
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server start failed: %w", err)
	}
	logger.Info("shutting down server gracefully")

	// Таймаут для graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

// openRepository выбирает хранилище по storage.driver
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Repository, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}

	// Подключение к базе данных
	pool, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established")

	if cfg.Storage.MigrateOnStart {
		runner, err := migrate.New(pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := runner.Up(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return postgres.New(pool), nil
}

// openLimiter создаёт ограничитель запросов; nil, если лимит выключен
func openLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *zap.Logger) (ratelimit.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Backend == config.BackendRedis {
		rl, err := ratelimit.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("rate limiter backed by redis", zap.String("addr", cfg.Redis.Addr))
		return rl, nil
	}
	return ratelimit.NewMemory(), nil
}
