package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/verraco/launcher/internal/browser"
	"github.com/verraco/launcher/internal/config"
	"github.com/verraco/launcher/internal/ctxlog"
	"github.com/verraco/launcher/internal/launch"
	"github.com/verraco/launcher/internal/netcheck"
	"github.com/verraco/launcher/internal/pyenv"
)

// App encapsulates the launcher's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	inR    io.Reader
	logger *slog.Logger
	model  *config.Model

	// Collaborators for the launch sequence; replaced in tests.
	tools   launch.Toolchain
	ports   launch.PortChecker
	browser launch.BrowserOpener
	runner  launch.Runner

	// interactive gates the acknowledgment pause before a non-zero exit.
	interactive func() bool
}

// NewApp is the constructor for the main application. It configures an
// isolated logger and resolves the full launch configuration up front, so
// a bad config never reaches the pre-flight sequence.
func NewApp(outW io.Writer, appConfig *Config) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if appConfig.NoBrowser {
		model.Launcher.OpenBrowser = false
	}
	logger.Debug("Configuration resolved.", "project_root", model.Layout.ProjectRoot, "addr", model.Addr())

	return &App{
		outW:    outW,
		inR:     os.Stdin,
		logger:  logger,
		model:   model,
		tools:   pyenv.New(),
		ports:   netcheck.New(),
		browser: browser.New(),
		runner:  launch.NewExecRunner(),
		interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
		},
	}, nil
}

// Model returns the resolved launch configuration. Primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
