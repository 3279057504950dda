package launch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/verraco/launcher/internal/ctxlog"
	"github.com/verraco/launcher/internal/pyenv"
)

// ExecRunner starts the backend under the ASGI development server and waits
// for it to exit. Ownership of the terminal session transfers to the child:
// stdio is inherited and interrupt signals are forwarded, the launcher does
// no monitoring or restarting of its own.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner returns a runner wired to the launcher's own stdio.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run blocks until the backend exits. The backend's exit error (including
// its exit code) is returned unwrapped so callers can propagate it.
func (r *ExecRunner) Run(ctx context.Context, d pyenv.Descriptor, spec ServerSpec) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := []string{"-m", "uvicorn", spec.App, "--host", spec.Host, "--port", strconv.Itoa(spec.Port)}
	if spec.Reload {
		args = append(args, "--reload")
	}

	cmd := exec.Command(d.Python, args...)
	cmd.Dir = spec.Dir
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start backend server: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Forward the operator's interrupt and let the server shut down on
		// its own terms.
		ctxlog.FromContext(ctx).Info("Interrupt received, stopping backend server.")
		_ = cmd.Process.Signal(os.Interrupt)
		return <-done
	case err := <-done:
		return err
	}
}
