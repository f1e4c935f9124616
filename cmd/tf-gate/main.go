package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheBearguy/tf-gatekeeper/cmd/tf-gate/commands"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	// Gate outcomes carry their own exit code and have already been reported.
	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			log.Error().Err(exitErr.Err).Msg("Evaluation failed")
		}
		cancel()
		os.Exit(exitErr.Code)
	}

	log.Error().Err(err).Msg("Command execution failed")
	cancel()
	os.Exit(2)
}

// setupLogging configures the global logger used for command-level
// messages. Pipeline components log through the telemetry logger, so the
// global zerolog level is left untouched.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}
