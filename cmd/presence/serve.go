package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/pkg/runtime"
)

// ServeCmd runs the engine until SIGINT or SIGTERM.
type ServeCmd struct{}

func (s *ServeCmd) Execute(_ []string) error {
	engine, err := runtime.New(options.Config)
	if err != nil {
		return err
	}
	logger := engine.Logger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting presence engine", zap.String("addr", engine.Addr()))
	if err := engine.Run(ctx); err != nil {
		logger.Error("presence engine stopped", zap.Error(err))
		return err
	}
	logger.Info("presence engine stopped")
	return nil
}
