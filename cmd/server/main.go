// Command server boots the domain-registration gateway: configuration, the
// SQLite store, the registrar driver, the HTTP router, background ledger
// sweepers, and graceful shutdown.
//
// Exit codes: 0 on normal shutdown, 1 when configuration is invalid.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/winstonhq/go-domain-gateway/internal/config"
	httpapi "github.com/winstonhq/go-domain-gateway/internal/http"
	"github.com/winstonhq/go-domain-gateway/internal/observability"
	"github.com/winstonhq/go-domain-gateway/internal/registrar"
	"github.com/winstonhq/go-domain-gateway/internal/repo"
	"github.com/winstonhq/go-domain-gateway/internal/sysutil"
)

func main() {
	os.Exit(run())
}

func run() int {
	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, httpapi.Version)
	if err != nil {
		log.Error().Err(err).Msg("otel setup failed")
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(flushCtx)
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
		return 1
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Error().Err(err).Msg("database migration failed")
		return 1
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Error().Err(err).Msg("registrar driver configuration invalid")
		return 1
	}
	if cfg.DryRun {
		log.Warn().Msg("dry run is ON: registrar mutations are simulated (set DRY_RUN=false to disable)")
	}

	r := gin.New()
	limiter := httpapi.RegisterRoutes(r, db, provider, cfg)
	defer limiter.Close()

	go sweepLoop(ctx, db, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("provider", provider.Name()).
			Bool("dry_run", cfg.DryRun).
			Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			return 1
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
			return 1
		}
	}
	return 0
}

// buildProvider selects and constructs the registrar driver named by
// DEFAULT_PROVIDER.
func buildProvider(cfg config.Config) (registrar.Provider, error) {
	switch cfg.DefaultProvider {
	case config.ProviderPorkbun:
		if !cfg.DryRun && (cfg.Porkbun.APIKey == "" || cfg.Porkbun.SecretKey == "") {
			return nil, errors.New("PORKBUN_API_KEY and PORKBUN_SECRET_KEY are required unless dry run is on")
		}
		return registrar.NewPorkbun(registrar.PorkbunOptions{
			APIKey:    cfg.Porkbun.APIKey,
			SecretKey: cfg.Porkbun.SecretKey,
			DryRun:    cfg.DryRun,
			Logger:    log.With().Str("component", "porkbun").Logger(),
		}), nil
	case config.ProviderNamecheap:
		nc := cfg.Namecheap
		if !cfg.DryRun && (nc.APIUser == "" || nc.APIKey == "" || nc.Username == "" || nc.ClientIP == "") {
			return nil, errors.New("NAMECHEAP_API_USER/API_KEY/USERNAME/CLIENT_IP are required unless dry run is on")
		}
		return registrar.NewNamecheap(registrar.NamecheapOptions{
			APIUser:  nc.APIUser,
			APIKey:   nc.APIKey,
			Username: nc.Username,
			ClientIP: nc.ClientIP,
			DryRun:   cfg.DryRun,
			Logger:   log.With().Str("component", "namecheap").Logger(),
		}), nil
	default:
		return nil, errors.New("unknown DEFAULT_PROVIDER")
	}
}

// sweepLoop periodically expires idempotency slots and trims spend-ledger
// rows past retention.
func sweepLoop(ctx context.Context, db *gorm.DB, cfg config.Config) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now().UTC()
			if n, err := repo.SweepIdempotency(ctx, db, now); err != nil {
				log.Warn().Err(err).Msg("idempotency sweep failed")
			} else if n > 0 {
				log.Info().Int64("deleted", n).Msg("idempotency sweep")
			}
			cutoff := now.AddDate(0, 0, -cfg.SpendRetentionDays)
			if n, err := repo.SweepDailySpend(ctx, db, cutoff); err != nil {
				log.Warn().Err(err).Msg("spend ledger sweep failed")
			} else if n > 0 {
				log.Info().Int64("deleted", n).Msg("spend ledger sweep")
			}
		case <-ctx.Done():
			return
		}
	}
}
