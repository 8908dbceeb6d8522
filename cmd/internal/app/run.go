package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Run is the entrypoint used by cmd/parley. It returns instead of exiting
// so deferred cleanup runs.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(os.Stdout, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
