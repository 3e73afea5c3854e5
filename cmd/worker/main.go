package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storybook/internal/bootstrap"
	"storybook/internal/dispatch"
	"storybook/internal/infra"
)

const queueGroup = "storybook-workers"

// The worker consumes start messages published by the API when
// DISPATCH_MODE=nats and runs each story on this process.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	if cfg.DispatchMode != infra.DispatchModeNATS {
		logger.Fatal().Str("dispatch", cfg.DispatchMode).Msg("worker: DISPATCH_MODE must be nats")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer rt.Close()

	sub, err := rt.Bus.QueueSubscribeJSON(cfg.NATSSubject, queueGroup, dispatch.Relay(rt.Local, &logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: subscribe failed")
	}

	go rt.Sweeper.Run(ctx)

	logger.Info().Str("subject", cfg.NATSSubject).Str("queue", queueGroup).Msg("worker: waiting for stories")
	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		logger.Warn().Err(err).Msg("worker: drain subscription")
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := rt.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("worker: in-flight stories interrupted")
	}
	logger.Info().Msg("worker: stopped")
}
