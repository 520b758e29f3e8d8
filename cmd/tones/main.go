package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

const version = "0.3.0"

func main() {
	// Secrets such as SENTRY_DSN may live in .env next to the binary.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load .env: %v\n", err)
	}

	runner := NewRunner(RunnerOpts{})
	app := &cli.Command{
		Name:     "tones",
		Usage:    "Music playback daemon with crossfade, lyrics and a persistent queue",
		Version:  version,
		Commands: runner.register(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tones: %v\n", err)
		os.Exit(1)
	}
}
