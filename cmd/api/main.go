package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"genflow/internal/bootstrap"
	"genflow/internal/http/handlers"
	"genflow/internal/http/httpapi"
	"genflow/internal/infra"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("service", "api").Logger()
	if err := cfg.RequireAPI(); err != nil {
		logger.Fatal().Err(err).Msg("api: invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer svc.Close()

	app := &handlers.App{
		Workflows:   svc.Workflows,
		Regenerator: svc.Segments,
		Credits:     svc.Ledger,
		Sweeper:     svc.Scheduler,
		Logger:      &logger,
	}
	router := httpapi.NewRouter(app, httpapi.RouterConfig{
		JWTSecret:       cfg.JWTSecret,
		SweepToken:      cfg.SweepToken,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Locales:         []string{"en", "id"},
	}, logger)
	if cfg.SweepToken == "" {
		logger.Warn().Msg("api: SWEEP_TOKEN unset, /internal/sweep rejects every request")
	}

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("api: listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
