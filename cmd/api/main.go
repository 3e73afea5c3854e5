package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storybook/internal/bootstrap"
	"storybook/internal/http/handlers"
	httpapi "storybook/internal/http/httpapi"
	"storybook/internal/infra"
	"storybook/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	defer rt.Close()

	app := &handlers.App{
		Jobs:         rt.Jobs,
		Intake:       rt.Intake,
		Logger:       &logger,
		PollInterval: cfg.PollInterval,
		Ready:        rt.Ready,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		DefaultLocale:   cfg.DefaultLocale,
		Languages:       middleware.DefaultLanguages,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       rt.StaticDir,
	})
	server := infra.NewHTTPServer(cfg, router)

	go rt.Sweeper.Run(ctx)

	go func() {
		logger.Info().Str("store", cfg.StoreDriver).Str("dispatch", cfg.DispatchMode).Msgf("api listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancelDrain()
	if err := rt.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("api: in-flight stories interrupted")
	}
	logger.Info().Msg("server stopped")
}
