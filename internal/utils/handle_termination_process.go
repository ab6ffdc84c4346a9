package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// HandleTerminationProcess возвращает контекст, который отменяется по SIGINT/SIGTERM.
// cleanup вызывается после отмены, до выхода из горутины.
func HandleTerminationProcess(ctx context.Context, cleanup func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(c)
		select {
		case <-c:
		case <-ctx.Done():
		}
		cancel()
		if cleanup != nil {
			cleanup()
		}
	}()
	return ctx, cancel
}
