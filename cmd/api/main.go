package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/vault-service/internal/api/http"
	"github.com/spec-kit/vault-service/internal/api/http/handlers"
	"github.com/spec-kit/vault-service/internal/auth"
	"github.com/spec-kit/vault-service/internal/config"
	"github.com/spec-kit/vault-service/internal/events"
	"github.com/spec-kit/vault-service/internal/observability"
	"github.com/spec-kit/vault-service/internal/persistence"
	"github.com/spec-kit/vault-service/internal/repository"
	"github.com/spec-kit/vault-service/internal/repository/memory"
	"github.com/spec-kit/vault-service/internal/service"
	"github.com/spec-kit/vault-service/internal/session"
	"github.com/spec-kit/vault-service/internal/vaultcrypto"
	"github.com/spec-kit/vault-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		userRepo  repository.UserRepository
		tokenRepo repository.PersistentTokenRepository
		itemRepo  repository.VaultItemRepository
		resetRepo repository.PasswordResetRepository
	)
	if pg.Enabled() {
		pool := pg.PoolHandle()
		userRepo = repository.NewUserRepository(pool)
		tokenRepo = repository.NewPersistentTokenRepository(pool)
		itemRepo = repository.NewVaultItemRepository(pool)
		resetRepo = repository.NewPasswordResetRepository(pool)
	} else {
		logger.Warn("running with in-memory repositories; data is lost on restart")
		userRepo = memory.NewUserRepository()
		tokenRepo = memory.NewPersistentTokenRepository()
		itemRepo = memory.NewVaultItemRepository()
		resetRepo = memory.NewPasswordResetRepository()
	}

	var (
		sessionStore session.Store
		throttle     auth.LoginThrottle
	)
	window := cfg.Auth.LoginFailureWindow()
	if redis.Enabled() {
		sessionStore = session.NewRedisStore(redis.Client)
		throttle = auth.NewRedisLoginThrottle(redis.Client, cfg.Auth.LoginMaxFailures, window)
	} else {
		sessionStore = session.NewMemoryStore()
		throttle = auth.NewMemoryLoginThrottle(cfg.Auth.LoginMaxFailures, window)
	}

	keyring, err := vaultcrypto.NewKeyring([]byte(cfg.Vault.MasterKey))
	if err != nil {
		logger.Fatal("invalid vault master key", zap.Error(err))
	}

	metrics := observability.NewMetrics("vault")
	dispatcher := events.NewInMemoryDispatcher()
	remember := auth.NewRememberMeManager(tokenRepo, cfg.RememberMe.Lifetime, logger)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:          userRepo,
		PasswordResetRepo: resetRepo,
		Remember:          remember,
		Sessions:          sessionStore,
		Throttle:          throttle,
		Dispatcher:        dispatcher,
		Logger:            logger,
	})
	vaultService := service.NewVaultService(service.VaultDependencies{
		ItemRepo:   itemRepo,
		UserRepo:   userRepo,
		Keyring:    keyring,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger, cfg.Notification))

	sessions := auth.NewSessions(sessionStore, cfg.Session)
	authMiddleware := auth.NewAuthMiddleware(auth.MiddlewareDeps{
		Sessions:   sessions,
		Tokens:     authService.TokenManager(),
		Remember:   remember,
		Cookies:    auth.NewRememberCookies(cfg.RememberMe),
		Users:      userRepo,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		LoginPath:  cfg.Auth.LoginPath,
	})

	var sso handlers.SSOExchanger
	provider, err := auth.NewSSOProvider(ctx, cfg.OIDC)
	if err != nil {
		logger.Fatal("failed to configure sso", zap.Error(err))
	}
	if provider != nil {
		sso = provider
	}

	deps := map[string]handlers.Pinger{"postgres": nil, "redis": nil}
	if pg.Enabled() {
		deps["postgres"] = pg
	}
	if redis.Enabled() {
		deps["redis"] = redis
	}

	go worker.NewTokenJanitor(tokenRepo, cfg.Worker.TokenJanitorInterval, logger).Run(ctx)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Auth:           handlers.NewAuthHandler(authService, sessions, authMiddleware, logger),
		SSO:            handlers.NewSSOHandler(sso, authService, sessions, authMiddleware, logger),
		Account:        handlers.NewAccountHandler(authService, sessions, authMiddleware),
		Vault:          handlers.NewVaultHandler(vaultService, authService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
