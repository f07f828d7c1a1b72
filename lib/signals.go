package lib

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scopewatch/scopewatch-client/lib/logger"
)

// Terminable is an app that can be stopped gracefully or abruptly.
type Terminable interface {
	// Shutdown attempts to gracefully terminate.
	Shutdown(context.Context) error
	// Close does a fast (force) termination.
	Close()
}

// ServeSignals terminates the app on SIGTERM and SIGINT. SIGTERM and the
// first SIGINT request a graceful shutdown bounded by shutdownTimeout; a
// repeated SIGINT forces the app closed.
func ServeSignals(app Terminable, shutdownTimeout time.Duration) {
	log := logger.Standard()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC,
		syscall.SIGTERM, // graceful shutdown
		syscall.SIGINT,  // graceful-then-fast shutdown
	)
	defer signal.Stop(sigC)

	gracefulShutdown := func() {
		tctx, tcancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer tcancel()
		log.Info("Attempting graceful shutdown...")
		if err := app.Shutdown(tctx); err != nil {
			log.Info("Graceful shutdown failed. Trying fast shutdown...")
			app.Close()
		}
	}

	var alreadyInterrupted bool
	for {
		signal := <-sigC
		switch signal {
		case syscall.SIGTERM:
			gracefulShutdown()
			return
		case syscall.SIGINT:
			if alreadyInterrupted {
				app.Close()
				return
			}
			go gracefulShutdown()
			alreadyInterrupted = true
		}
	}
}
