// Package browser opens the backend URL in the operator's default browser.
// The open is a convenience, never a requirement: every failure path is
// logged and swallowed so it cannot abort a launch.
package browser

import (
	"context"
	"time"

	"github.com/pkg/browser"

	"github.com/verraco/launcher/internal/ctxlog"
)

// Opener launches URLs fire-and-forget. The openURL hook exists for tests.
type Opener struct {
	openURL func(url string) error
}

// New returns an Opener backed by the platform default browser.
func New() *Opener {
	return &Opener{openURL: browser.OpenURL}
}

// Open attempts to open url, waiting at most timeout for the platform
// helper to report back. A helper that is still running when the timeout
// fires is left alone; the launch proceeds either way.
func (o *Opener) Open(ctx context.Context, url string, timeout time.Duration) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Opening browser...", "url", url)

	done := make(chan error, 1)
	go func() {
		done <- o.openURL(url)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("Could not open browser, open the URL manually.", "url", url, "error", err)
		}
	case <-time.After(timeout):
		logger.Warn("Browser helper did not report back in time, continuing.", "url", url)
	case <-ctx.Done():
	}
}
