package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/georgenavi/esimdb-scraper/internal/logger"
)

// watchSignals cancels the run on the first SIGINT/SIGTERM and exits with 130 on the second.
// The returned func stops watching.
func watchSignals(cancel context.CancelFunc, log logger.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			log.WarnObj("interrupt received, finishing in-flight countries", "signal", sig.String())
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigs:
			log.ErrorObj("second interrupt, exiting immediately", "signal", sig.String())
			_ = logger.Close()
			os.Exit(exitInterrupted)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
