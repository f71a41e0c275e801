package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"carbonmap/core-go/internal/access"
	"carbonmap/core-go/internal/accounts"
	"carbonmap/core-go/internal/catalog"
	"carbonmap/core-go/internal/config"
	"carbonmap/core-go/internal/db"
	"carbonmap/core-go/internal/httpapi"
	"carbonmap/core-go/internal/identity"
	"carbonmap/core-go/internal/metrics"
	"carbonmap/core-go/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := httpapi.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := httpapi.NewLogger(cfg.LogLevel)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := httpapi.Deps{
		Metrics:        m,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Resolver: access.NewResolver(access.ResolverOptions{
			DenyUnconfirmed: cfg.PopupDenyUnconfirmed,
			Observer:        m,
		}),
	}

	var store accounts.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		cat := db.NewCatalog(logger, pool, m)
		if err := importSeed(ctx, logger, cat, cfg.SeedFile); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare catalog")
		}
		go cat.Run(ctx, cfg.CatalogRefreshInterval)

		store = db.NewAccountStore(pool)
		deps.Catalog = cat
		deps.DB = pool
	} else {
		cat, mem, err := memoryBackend(cfg.SeedFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load seed fixture")
		}
		logger.Warn().Msg("DATABASE_URL not set; serving an in-memory catalog")
		store = mem
		deps.Catalog = cat
	}

	var ledger accounts.TokenLedger
	if cfg.RedisURL != "" {
		client, err := accounts.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		ledger = accounts.NewRedisLedger(client, "")
	} else {
		ledger = accounts.NewMemoryLedger()
	}

	signer, err := identity.NewSigner(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build token signer")
	}
	deps.Accounts = store
	deps.Authenticator = identity.NewAuthenticator(signer, store)
	deps.AccountService = accounts.NewService(logger, store, accounts.NewTokens(cfg.JWTSecret, cfg.ConfirmTokenTTL), ledger)

	h := httpapi.NewHandler(logger, deps)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("carbonmap listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

// importSeed loads the fixture into an empty database. A populated database
// is left alone.
func importSeed(ctx context.Context, logger zerolog.Logger, cat *db.Catalog, path string) error {
	state, err := cat.Refresh(ctx)
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if state.Forest.Len() > 0 {
		logger.Info().Str("seed_file", path).Int("entities", state.Forest.Len()).Msg("catalog already populated; skipping seed")
		return nil
	}

	fx, err := seed.Load(path)
	if err != nil {
		return err
	}
	if err := cat.Import(ctx, fx); err != nil {
		return err
	}
	logger.Info().
		Str("seed_file", path).
		Int("entities", len(fx.Entities)).
		Int("accounts", len(fx.Accounts)).
		Int("grants", len(fx.Grants)).
		Msg("seed imported")
	return nil
}

func memoryBackend(path string) (*catalog.Memory, *accounts.MemoryStore, error) {
	var fx seed.Fixture
	if path != "" {
		var err error
		if fx, err = seed.Load(path); err != nil {
			return nil, nil, err
		}
	}
	cat, err := catalog.NewMemory(fx.Entities, fx.Grants)
	if err != nil {
		return nil, nil, err
	}
	store, err := accounts.NewMemoryStore(fx.Accounts...)
	if err != nil {
		return nil, nil, err
	}
	return cat, store, nil
}
