package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"passvault/api/handler"
	apiMiddleware "passvault/api/middleware"
	"passvault/api/routes"
	"passvault/config"
	"passvault/internal/docstore"
	"passvault/internal/repository"
	"passvault/internal/service"
	"passvault/internal/utils"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment")
	addr := pflag.String("addr", "", "listen address, overrides HTTP_ADDR")
	pflag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("document store unavailable")
	}
	defer closeStore()

	resetGrants, closeGrants, err := openResetGrants(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("reset grant store unavailable")
	}
	defer closeGrants()

	userRepo := repository.NewUserRepository(store)
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Fatal("create unique indexes")
	}
	securityRepo := repository.NewSecurityLogRepository(store)

	strategy, err := service.ParseVerificationStrategy(cfg.VerificationStrategy)
	if err != nil {
		logger.WithError(err).Fatal("invalid verification strategy")
	}
	passwordHasher, err := service.NewPasswordHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		logger.WithError(err).Fatal("invalid password hasher")
	}
	sealer, err := newSealer(cfg.CipherKey)
	if err != nil {
		logger.WithError(err).Fatal("invalid cipher key")
	}
	if sealer == nil {
		logger.Warn("CIPHER_KEY not set, TOTP secrets are stored unencrypted")
	}

	var emailSender service.EmailSender = service.LogEmailSender{Logger: logger}
	if cfg.ResendAPIKey != "" {
		emailSender = service.NewResendEmailSender(cfg.ResendAPIKey, cfg.EmailFrom)
	} else {
		logger.Warn("RESEND_API_KEY not set, emails are logged without bodies and not delivered")
	}

	sessionManager := &utils.JWTManager{
		Secret:     []byte(cfg.JWTSecret),
		Issuer:     cfg.JWTIssuer,
		SessionTTL: cfg.SessionTTL,
	}
	sessionTokens := service.SessionTokens{Manager: sessionManager, Users: userRepo}

	authService := service.NewAuthService(
		userRepo,
		securityRepo,
		resetGrants,
		service.NewMailer(emailSender, cfg.PublicBaseURL),
		passwordHasher,
		sessionTokens,
		service.NewTOTPProvider(cfg.MFAIssuer),
		sealer,
		service.RealClock{},
		service.AuthConfig{
			Strategy:                 strategy,
			RequireLoginConfirmation: cfg.LoginConfirmation,
			VerificationTokenTTL:     cfg.VerificationTokenTTL,
			LoginTokenTTL:            cfg.LoginTokenTTL,
			ResetGrantTTL:            cfg.ResetGrantTTL,
			MFAIssuer:                cfg.MFAIssuer,
		},
		logger,
	)

	authHandler := handler.NewAuthHandler(authService, handler.NewValidator(), logger)

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.IPExtractor = echo.ExtractIPDirect()
	app.Use(echoMiddleware.Recover())
	app.Use(echoMiddleware.RequestLoggerWithConfig(echoMiddleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURIPath:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echoMiddleware.RequestLoggerValues) error {
			// Query strings carry verification tokens, so only the path is logged.
			entry := logger.WithFields(logrus.Fields{
				"status": v.Status,
				"method": v.Method,
				"path":   v.URIPath,
				"ip":     v.RemoteIP,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))

	authMiddleware := apiMiddleware.AuthMiddleware{Tokens: sessionTokens}
	router := routes.NewRouter(app, authHandler, authMiddleware)
	router.RegisterRoutes()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":     cfg.HTTPAddr,
		"store":    cfg.StoreDriver,
		"strategy": strategy,
	}).Info("server started")
	if err := app.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server stopped")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := config.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return docstore.NewPostgresStore(db), closeFn, nil
	case config.StoreMongo:
		client, database, err := config.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return docstore.NewMongoStore(database), closeFn, nil
	default:
		return docstore.NewMemoryStore(), func() {}, nil
	}
}

func openResetGrants(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (repository.ResetGrantRepository, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, reset grants are kept in process memory")
		return repository.NewMemoryResetGrantRepository(), func() {}, nil
	}
	client, err := config.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewRedisResetGrantRepository(client, ""), func() { _ = client.Close() }, nil
}

func newSealer(cipherKey string) (service.SecretSealer, error) {
	if cipherKey == "" {
		return nil, nil
	}
	key, err := service.ParseCipherKey(cipherKey)
	if err != nil {
		return nil, err
	}
	return service.NewAEADCipher(key)
}
