package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/verraco/launcher/internal/ctxlog"
	"github.com/verraco/launcher/internal/launch"
)

// Run executes one launch attempt. Pre-flight failures are reported with
// their remedy and, in interactive sessions, held on screen until the
// operator acknowledges them. The returned error is nil only when the
// backend itself exited cleanly.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	l := launch.New(a.model, a.tools, a.ports, a.browser, a.runner, a.outW)
	err := l.Launch(ctx)
	if err == nil {
		a.logger.Debug("Backend server exited cleanly.")
		return nil
	}

	var failure *launch.Failure
	if errors.As(err, &failure) {
		a.logger.Error("Launch aborted.", "kind", string(failure.Kind), "error", failure.Err)
		fmt.Fprintf(a.outW, "\nLaunch failed [%s]: %v\n", failure.Kind, failure.Err)
		if failure.Remedy != "" {
			fmt.Fprintf(a.outW, "Next step: %s\n", failure.Remedy)
		}
		a.pause()
		return err
	}

	// Anything else is the backend's own exit status after a successful
	// handoff; it is reported but not re-diagnosed.
	a.logger.Error("Backend server exited with an error.", "error", err)
	return err
}

// pause blocks until Enter in interactive sessions so the diagnostic stays
// readable when the launcher was started from a double-click or a wrapper
// script that closes the window on exit.
func (a *App) pause() {
	if a.interactive == nil || !a.interactive() {
		return
	}
	fmt.Fprint(a.outW, "\nPress Enter to exit...")
	_, _ = bufio.NewReader(a.inR).ReadString('\n')
}
