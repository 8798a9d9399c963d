package run

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/zap"
)

// SetupSignalHandler cancels the returned context on the first interrupt signal.
// The stop function releases the signal registration and must always be called.
func SetupSignalHandler(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, interruptSignals...)

	go func() {
		select {
		case sig := <-sigChan:
			if isSuspend(sig) {
				logger.Warn("suspend requested, saving state and stopping instead; continue later with resume")
			} else {
				logger.Warn("received signal, stopping", zap.String("signal", sig.String()))
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
