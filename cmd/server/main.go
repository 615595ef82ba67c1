package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"xuesigner/internal/app"
	"xuesigner/internal/captcha"
	"xuesigner/internal/claim"
	"xuesigner/internal/config"
	"xuesigner/internal/domain"
	"xuesigner/internal/logging"
	"xuesigner/internal/metrics"
	"xuesigner/internal/signer"
	"xuesigner/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.Logger = *logger
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}

	backend, err := newBackend(cfg, rdb)
	if err != nil {
		return err
	}
	codes := domain.NewCodeStore(backend)
	defer codes.Close()
	repo := domain.NewStoreRepository(codes)

	// Load the registry now so a corrupt document stops startup.
	if _, err := repo.List(ctx); err != nil {
		return fmt.Errorf("load code registry: %w", err)
	}

	sig, err := signer.New(cfg.SignerPrivateKey, signer.DomainConfig{
		Name:              cfg.SigningDomainName,
		Version:           cfg.SigningDomainVersion,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.ClaimerContract,
	})
	if err != nil {
		return err
	}

	verifier := captcha.NewRecaptchaVerifier(cfg.RecaptchaSecret, cfg.RecaptchaVerifyURL)
	handler := app.NewHandler(claim.NewService(repo, sig), verifier)
	router := app.NewRouter(handler, app.RouterConfig{
		SigningPath: cfg.SigningPath(),
		RateLimit: app.RateLimitConfig{
			Limit:  cfg.SigningRateLimit,
			Window: time.Minute,
		},
	}, logger, rdb)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	adminLn, err := listenAdmin(cfg.AdminSocket)
	if err != nil {
		return err
	}
	adminSrv := &http.Server{
		Handler:           app.NewAdminRouter(app.NewAdminHandler(repo), logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("signer", sig.Address().Hex()).
			Str("backend", cfg.StorageBackend).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("socket", cfg.AdminSocket).Msg("admin api listening")
		if err := adminSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("admin server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown")
	}
	if err := codes.Flush(shutdownCtx); err != nil {
		logger.Error().Err(err).Str("store", codes.Name()).Msg("failed to flush store")
	} else {
		logger.Info().Str("store", codes.Name()).Msg("store flushed")
	}
	os.Remove(cfg.AdminSocket)

	return serveErr
}

func newBackend(cfg config.Config, rdb *redis.Client) (store.Backend, error) {
	if cfg.StorageBackend == "redis" {
		return store.NewRedisBackend(rdb), nil
	}
	fb, err := store.NewFileBackend(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	return fb, nil
}

// listenAdmin opens the admin unix socket, replacing a stale one left by an
// earlier run. Only the owner may connect.
func listenAdmin(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create admin socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale admin socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on admin socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("restrict admin socket: %w", err)
	}
	return ln, nil
}
