// cmd/locscrape/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/law-makers/locscrape/internal/cli"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Warn().Msg("Interrupt received, shutting down browsers (press Ctrl+C again to force)")
		go cli.Shutdown()

		<-sigCh
		log.Warn().Msg("Forced exit")
		os.Exit(130)
	}()

	// Execute CLI (app initialization happens inside cli.Execute)
	cli.Execute()
}
