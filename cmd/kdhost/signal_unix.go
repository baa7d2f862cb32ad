//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// watchBreakin turns SIGUSR1 into break-in requests.
func watchBreakin(ctx context.Context, breakin func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				log.Info().Msg("SIGUSR1: break-in requested")
				breakin()
			}
		}
	}()
}
