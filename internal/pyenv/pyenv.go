// Package pyenv resolves the host Python toolchain the backend runs under:
// interpreter discovery, project-local virtual environment provisioning,
// pip availability, import probes and dependency installation. The resolved
// descriptor is computed once per launch and never re-queried.
package pyenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/verraco/launcher/internal/ctxlog"
	"github.com/verraco/launcher/internal/fsutil"
)

// ErrInterpreterNotFound reports that no usable Python interpreter could be
// located on the system.
var ErrInterpreterNotFound = errors.New("no python interpreter found")

// Descriptor identifies the interpreter a launch runs with. Immutable after
// Resolve.
type Descriptor struct {
	// Python is the interpreter executable, absolute when probing resolved
	// a concrete path.
	Python string
	// Venv reports whether Python lives inside the project-local venv.
	Venv bool
	// Version is the interpreter's self-reported version line, for
	// diagnostics only.
	Version string
}

// ResolveOptions configures interpreter resolution.
type ResolveOptions struct {
	// VenvDir is the absolute path of the project-local virtual
	// environment directory.
	VenvDir string
	// UseVenv enables provisioning/reuse of the venv. When false the
	// system interpreter is used directly.
	UseVenv bool
}

// Toolchain runs Python subprocesses. The exec hooks exist so tests can
// substitute fake interpreters.
type Toolchain struct {
	lookPath   func(file string) (string, error)
	newCommand func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// New returns a Toolchain backed by the real os/exec.
func New() *Toolchain {
	return &Toolchain{
		lookPath:   exec.LookPath,
		newCommand: exec.CommandContext,
	}
}

// Resolve locates the interpreter for this launch. Preference order: an
// already-provisioned venv interpreter, else the platform-preferred system
// interpreter (provisioning the venv from it when enabled), else generic
// PATH lookup. Returns ErrInterpreterNotFound when nothing resolves.
func (tc *Toolchain) Resolve(ctx context.Context, opts ResolveOptions) (Descriptor, error) {
	logger := ctxlog.FromContext(ctx)

	if opts.UseVenv {
		if venvPy := venvInterpreter(opts.VenvDir); fsutil.FileExists(venvPy) {
			logger.Debug("Reusing existing virtual environment.", "python", venvPy)
			return tc.describe(ctx, venvPy, true)
		}
	}

	sysPy, err := tc.systemInterpreter()
	if err != nil {
		return Descriptor{}, err
	}
	logger.Debug("System interpreter resolved.", "python", sysPy)

	if !opts.UseVenv {
		return tc.describe(ctx, sysPy, false)
	}

	logger.Info("Creating virtual environment...", "dir", opts.VenvDir)
	if err := tc.run(ctx, nil, "", sysPy, "-m", "venv", opts.VenvDir); err != nil {
		// A broken venv module is not fatal: the system interpreter can
		// still run the backend, installs just land in the user site.
		logger.Warn("Virtual environment creation failed, falling back to system interpreter.", "error", err)
		return tc.describe(ctx, sysPy, false)
	}

	venvPy := venvInterpreter(opts.VenvDir)
	if !fsutil.FileExists(venvPy) {
		logger.Warn("Virtual environment created but interpreter is missing, falling back.", "expected", venvPy)
		return tc.describe(ctx, sysPy, false)
	}
	return tc.describe(ctx, venvPy, true)
}

// describe finalizes a descriptor, attaching the version diagnostic.
func (tc *Toolchain) describe(ctx context.Context, python string, venv bool) (Descriptor, error) {
	d := Descriptor{Python: python, Venv: venv}
	out := &bytes.Buffer{}
	if err := tc.run(ctx, out, "", python, "--version"); err != nil {
		return Descriptor{}, fmt.Errorf("%s is not runnable: %w", python, err)
	}
	d.Version = strings.TrimSpace(out.String())
	return d, nil
}

// systemInterpreter probes platform-preferred interpreter names. LookPath
// resolves bare names against PATH and checks absolute candidates directly.
func (tc *Toolchain) systemInterpreter() (string, error) {
	for _, candidate := range interpreterCandidates() {
		if path, err := tc.lookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", ErrInterpreterNotFound
}

// interpreterCandidates returns probe order for the current platform.
func interpreterCandidates() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"py", "python", "python3"}
	case "darwin":
		return []string{
			"/opt/homebrew/bin/python3",
			"/usr/local/bin/python3",
			"python3",
			"python",
		}
	default:
		return []string{"python3", "python"}
	}
}

// venvInterpreter returns the interpreter path inside a venv directory.
func venvInterpreter(venvDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvDir, "Scripts", "python.exe")
	}
	return filepath.Join(venvDir, "bin", "python")
}

// CheckPip verifies the dependency manager answers under this interpreter.
func (tc *Toolchain) CheckPip(ctx context.Context, d Descriptor) error {
	out := &bytes.Buffer{}
	if err := tc.run(ctx, out, "", d.Python, "-m", "pip", "--version"); err != nil {
		return fmt.Errorf("pip is not available under %s: %w", d.Python, err)
	}
	ctxlog.FromContext(ctx).Debug("pip available.", "version", strings.TrimSpace(out.String()))
	return nil
}

// Importable reports whether pkg can be imported under the interpreter. A
// failed import is not an error; only a failure to run the interpreter is.
func (tc *Toolchain) Importable(ctx context.Context, d Descriptor, pkg string) (bool, error) {
	err := tc.run(ctx, nil, "", d.Python, "-c", "import "+pkg)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// ProbeImport import-loads module with dir as the working directory,
// surfacing the interpreter's own stderr on failure so import-time errors
// in the backend reach the operator verbatim.
func (tc *Toolchain) ProbeImport(ctx context.Context, d Descriptor, dir, module string) error {
	stderr := &bytes.Buffer{}
	cmd := tc.newCommand(ctx, d.Python, "-c", "import "+module)
	cmd.Dir = dir
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("import of %q failed:\n%s", module, msg)
		}
		return fmt.Errorf("import of %q failed: %w", module, err)
	}
	return nil
}

// Install invokes pip against the given requirements manifest, streaming
// its output to out. userSite adds --user, which only applies outside a
// venv (pip rejects the flag inside one).
func (tc *Toolchain) Install(ctx context.Context, d Descriptor, requirements string, userSite bool, out io.Writer) error {
	args := []string{"-m", "pip", "install", "-r", requirements}
	if userSite && !d.Venv {
		args = append(args, "--user")
	}
	if err := tc.run(ctx, out, "", d.Python, args...); err != nil {
		return fmt.Errorf("pip install failed: %w", err)
	}
	return nil
}

// RunScript executes a Python script with dir as the working directory,
// streaming combined output to out.
func (tc *Toolchain) RunScript(ctx context.Context, d Descriptor, dir, script string, out io.Writer) error {
	return tc.run(ctx, out, dir, d.Python, script)
}

// run executes one subprocess to completion. Combined output goes to out
// when non-nil, otherwise it is discarded.
func (tc *Toolchain) run(ctx context.Context, out io.Writer, dir, name string, arg ...string) error {
	cmd := tc.newCommand(ctx, name, arg...)
	cmd.Dir = dir
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = out
	}
	return cmd.Run()
}
