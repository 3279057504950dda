// Package launch implements the bootstrap sequence: resolve the
// environment, satisfy dependencies, detect conflicts, then hand the
// process session over to the backend server. The sequence is strictly
// ordered and fail-fast; every failure is terminal and carries a remedy.
package launch

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/verraco/launcher/internal/config"
	"github.com/verraco/launcher/internal/ctxlog"
	"github.com/verraco/launcher/internal/fsutil"
	"github.com/verraco/launcher/internal/pyenv"
)

// State is a position in the launch state machine. Running is the only
// non-error terminal state; any state may transition to Failed.
type State string

const (
	StateInit                  State = "Init"
	StateEnvironmentResolved   State = "EnvironmentResolved"
	StateDependenciesSatisfied State = "DependenciesSatisfied"
	StatePortAvailable         State = "PortAvailable"
	StateRunning               State = "Running"
	StateFailed                State = "Failed"
)

// Toolchain is the Python toolchain surface the sequence needs. Implemented
// by pyenv.Toolchain; faked in tests.
type Toolchain interface {
	Resolve(ctx context.Context, opts pyenv.ResolveOptions) (pyenv.Descriptor, error)
	CheckPip(ctx context.Context, d pyenv.Descriptor) error
	Importable(ctx context.Context, d pyenv.Descriptor, pkg string) (bool, error)
	ProbeImport(ctx context.Context, d pyenv.Descriptor, dir, module string) error
	Install(ctx context.Context, d pyenv.Descriptor, requirements string, userSite bool, out io.Writer) error
	RunScript(ctx context.Context, d pyenv.Descriptor, dir, script string, out io.Writer) error
}

// PortChecker reports whether the backend's port already has a listener.
type PortChecker interface {
	Check(ctx context.Context, host string, port int) (inUse bool, pid int32, err error)
}

// BrowserOpener opens a URL best-effort; it never reports failure upward.
type BrowserOpener interface {
	Open(ctx context.Context, url string, timeout time.Duration)
}

// ServerSpec tells a Runner how to start the backend server.
type ServerSpec struct {
	Dir    string
	App    string
	Host   string
	Port   int
	Reload bool
}

// Runner starts the backend and owns the process session until it exits.
type Runner interface {
	Run(ctx context.Context, d pyenv.Descriptor, spec ServerSpec) error
}

// Launcher drives one launch attempt. Not safe for reuse across attempts;
// construct a fresh one per Launch call if retrying manually.
type Launcher struct {
	cfg     *config.Model
	tools   Toolchain
	ports   PortChecker
	browser BrowserOpener
	runner  Runner
	out     io.Writer

	trace []State
}

// New assembles a Launcher from its collaborators. out receives pip and
// validation subprocess output.
func New(cfg *config.Model, tools Toolchain, ports PortChecker, browser BrowserOpener, runner Runner, out io.Writer) *Launcher {
	return &Launcher{
		cfg:     cfg,
		tools:   tools,
		ports:   ports,
		browser: browser,
		runner:  runner,
		out:     out,
	}
}

// Trace returns the state transitions of the last Launch call, starting
// with Init.
func (l *Launcher) Trace() []State {
	return l.trace
}

// Launch runs the bootstrap sequence and, on success, blocks inside the
// Runner until the backend exits. The returned error is either a *Failure
// (pre-flight) or whatever the backend process yielded.
func (l *Launcher) Launch(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	l.trace = []State{StateInit}
	cfg := l.cfg

	// Project layout. Nothing is spawned before this check passes.
	backendDir := cfg.BackendPath()
	if !fsutil.DirExists(backendDir) {
		return l.fail(MissingDirectory,
			fmt.Errorf("backend directory %s does not exist", backendDir),
			fmt.Sprintf("run the launcher from the project root (expected %s)", backendDir))
	}

	// Interpreter, venv-first.
	desc, err := l.tools.Resolve(ctx, pyenv.ResolveOptions{
		VenvDir: cfg.VenvPath(),
		UseVenv: cfg.Python.UseVenv,
	})
	if err != nil {
		return l.fail(InterpreterNotFound, err,
			"install Python 3 from https://www.python.org/downloads/ and make sure python3 is on PATH")
	}
	logger.Info("Python interpreter resolved.", "python", desc.Python, "version", desc.Version, "venv", desc.Venv)

	// Dependency manager.
	if err := l.withProbeTimeout(ctx, func(ctx context.Context) error {
		return l.tools.CheckPip(ctx, desc)
	}); err != nil {
		return l.fail(PackageManagerUnavailable, err,
			fmt.Sprintf("%s -m ensurepip --upgrade", desc.Python))
	}

	// Entry point and content bank.
	if !fsutil.FileExists(cfg.EntryPath()) {
		return l.fail(MissingEntryPoint,
			fmt.Errorf("backend entry module %s does not exist", cfg.EntryPath()),
			fmt.Sprintf("restore %s from the repository", cfg.EntryPath()))
	}
	if !fsutil.FileExists(cfg.DataPath()) {
		err := fmt.Errorf("content bank %s does not exist", cfg.DataPath())
		if cfg.Launcher.OnMissingData == config.MissingDataFatal {
			return l.fail(MissingDataFile, err,
				fmt.Sprintf("generate the bank or set launcher { on_missing_data = \"warn\" } (missing: %s)", cfg.DataPath()))
		}
		logger.Warn("Content bank missing, backend will fall back to sample data.", "path", cfg.DataPath())
	}
	l.to(StateEnvironmentResolved)

	// Marker dependency, installing exactly once when absent.
	var markerOK bool
	if err := l.withProbeTimeout(ctx, func(ctx context.Context) error {
		var probeErr error
		markerOK, probeErr = l.tools.Importable(ctx, desc, cfg.Python.MarkerPackage)
		return probeErr
	}); err != nil {
		return l.fail(InterpreterNotFound,
			fmt.Errorf("interpreter stopped responding while probing %s: %w", cfg.Python.MarkerPackage, err),
			fmt.Sprintf("%s --version", desc.Python))
	}
	if markerOK {
		logger.Debug("Dependencies already satisfied, skipping install.", "marker", cfg.Python.MarkerPackage)
	} else {
		logger.Info("Installing backend dependencies...", "requirements", cfg.RequirementsPath())
		if err := l.tools.Install(ctx, desc, cfg.RequirementsPath(), cfg.Python.UserSiteInstall, l.out); err != nil {
			return l.fail(DependencyInstallFailed, err,
				fmt.Sprintf("%s -m pip install -r %s", desc.Python, cfg.RequirementsPath()))
		}
	}

	// Import-load the entry module before committing to a server start.
	module := entryModuleName(cfg.Layout.EntryModule)
	if err := l.withProbeTimeout(ctx, func(ctx context.Context) error {
		return l.tools.ProbeImport(ctx, desc, backendDir, module)
	}); err != nil {
		return l.fail(EntryPointLoadFailed, err,
			fmt.Sprintf("cd %s && %s -c \"import %s\"", backendDir, desc.Python, module))
	}

	// Optional bank validation, advisory only.
	if cfg.Launcher.ValidateData && fsutil.FileExists(cfg.ValidateScriptPath()) {
		if err := l.tools.RunScript(ctx, desc, backendDir, cfg.ValidateScriptPath(), l.out); err != nil {
			logger.Warn("Bank validation reported problems.", "script", cfg.ValidateScriptPath(), "error", err)
		}
	}
	l.to(StateDependenciesSatisfied)

	// Port conflict, diagnosed before the bind is ever attempted.
	inUse, pid, err := l.ports.Check(ctx, cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		logger.Warn("Port check inconclusive, proceeding.", "error", err)
	} else if inUse {
		detail := fmt.Errorf("%s is already in use", cfg.Addr())
		if pid > 0 {
			detail = fmt.Errorf("%s is already in use by pid %d", cfg.Addr(), pid)
		}
		return l.fail(PortInUse, detail,
			fmt.Sprintf("stop the process listening on %s or change server { port } in launcher.hcl", cfg.Addr()))
	}
	l.to(StatePortAvailable)

	// Browser first, then handoff; the open must never delay or abort the
	// server start beyond its own bounded timeout.
	if cfg.Launcher.OpenBrowser {
		l.browser.Open(ctx, cfg.URL(), cfg.Launcher.BrowserTimeout)
	}

	l.to(StateRunning)
	logger.Info("Starting backend server.", "addr", cfg.Addr(), "app", cfg.Server.App, "reload", cfg.Server.Reload)
	return l.runner.Run(ctx, desc, ServerSpec{
		Dir:    backendDir,
		App:    cfg.Server.App,
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Reload: cfg.Server.Reload,
	})
}

// withProbeTimeout bounds a diagnostic subprocess. Install and handoff run
// unbounded; only the cheap probes get a deadline.
func (l *Launcher) withProbeTimeout(ctx context.Context, fn func(context.Context) error) error {
	if l.cfg.Launcher.ProbeTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Launcher.ProbeTimeout)
	defer cancel()
	return fn(ctx)
}

func (l *Launcher) to(s State) {
	l.trace = append(l.trace, s)
}

func (l *Launcher) fail(kind Kind, err error, remedy string) *Failure {
	l.trace = append(l.trace, StateFailed)
	return &Failure{Kind: kind, Err: err, Remedy: remedy}
}

// entryModuleName maps an entry file like "app.py" to its import name.
func entryModuleName(entry string) string {
	return strings.TrimSuffix(filepath.Base(entry), ".py")
}
