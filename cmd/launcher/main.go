package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/verraco/launcher/internal/app"
	"github.com/verraco/launcher/internal/cli"
)

// main is the entrypoint for the verraco launcher.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		// After a successful handoff the backend's exit status is the
		// launcher's exit status.
		var procErr *exec.ExitError
		if errors.As(err, &procErr) && procErr.ExitCode() > 0 {
			os.Exit(procErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) error {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	launcherApp, err := app.NewApp(outW, appConfig)
	if err != nil {
		return err
	}

	return launcherApp.Run(context.Background())
}
