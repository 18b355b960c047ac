package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	sqliteadapter "github.com/oauthree/teeproxy/internal/adapter/driven/sqlite"
	"github.com/oauthree/teeproxy/internal/adapter/driven/telegram"
	"github.com/oauthree/teeproxy/internal/adapter/driven/twitter"
	httphandler "github.com/oauthree/teeproxy/internal/adapter/driving/http"
	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"session_ttl", cfg.SessionTTL,
		"api_token_ttl", cfg.APITokenTTL,
		"vault_encryption", cfg.HasSecretKey(),
	)
	if !cfg.HasSecretKey() {
		slog.Warn("TEEPROXY_SECRET_KEY not set, credential storage is disabled")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire storage adapters.
	userStore := sqliteadapter.NewUserRepo(db)
	accountStore := sqliteadapter.NewAccountRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	tokenStore := sqliteadapter.NewTokenRepo(db)
	accessLog := sqliteadapter.NewAccessLogRepo(db)

	// 6. Register service plugins. Registration happens here, before the
	// first request, and the registry is read-only afterwards.
	registry := application.NewCapabilityRegistry()

	twitterPlugin := twitter.New(slog.Default())
	if err := registry.Register(twitterPlugin.Capability(), twitterPlugin.Validators(), twitterPlugin.Dispatcher()); err != nil {
		return err
	}

	telegramPlugin := telegram.New(slog.Default())
	if err := registry.Register(telegramPlugin.Capability(), telegramPlugin.Validators(), telegramPlugin.Dispatcher()); err != nil {
		return err
	}
	slog.Info("service plugins registered", "services", registry.Services())

	// 7. Wire application services.
	resolver := application.NewIdentityResolver(registry, userStore, accountStore, credentialStore, slog.Default())
	tokenSvc := application.NewTokenService(cfg.SigningKey, tokenStore, userStore, registry, accessLog, cfg.SessionTTL, cfg.APITokenTTL, slog.Default())
	vault := application.NewCredentialVault(accountStore, credentialStore)
	policyEngine := application.NewPolicyEngine(registry)

	// 8. Create HTTP handler and routes.
	apiHandler := httphandler.NewHandler(
		resolver,
		tokenSvc,
		vault,
		policyEngine,
		registry,
		userStore,
		accountStore,
		accessLog,
		slog.Default(),
	)
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("teeproxy started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
