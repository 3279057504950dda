package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verraco/launcher/internal/config"
	"github.com/verraco/launcher/internal/pyenv"
)

// fakeTools scripts every toolchain answer and records invocations so tests
// can assert on ordering and on what was never called.
type fakeTools struct {
	desc          pyenv.Descriptor
	resolveErr    error
	pipErr        error
	markerOK      bool
	importableErr error
	probeErr      error
	installErr    error
	scriptErr     error

	calls        []string
	installCount int
	installReq   string
	installUser  bool
}

func (f *fakeTools) Resolve(ctx context.Context, opts pyenv.ResolveOptions) (pyenv.Descriptor, error) {
	f.calls = append(f.calls, "resolve")
	return f.desc, f.resolveErr
}

func (f *fakeTools) CheckPip(ctx context.Context, d pyenv.Descriptor) error {
	f.calls = append(f.calls, "pip")
	return f.pipErr
}

func (f *fakeTools) Importable(ctx context.Context, d pyenv.Descriptor, pkg string) (bool, error) {
	f.calls = append(f.calls, "importable:"+pkg)
	return f.markerOK, f.importableErr
}

func (f *fakeTools) ProbeImport(ctx context.Context, d pyenv.Descriptor, dir, module string) error {
	f.calls = append(f.calls, "probe:"+module)
	return f.probeErr
}

func (f *fakeTools) Install(ctx context.Context, d pyenv.Descriptor, requirements string, userSite bool, out io.Writer) error {
	f.calls = append(f.calls, "install")
	f.installCount++
	f.installReq = requirements
	f.installUser = userSite
	return f.installErr
}

func (f *fakeTools) RunScript(ctx context.Context, d pyenv.Descriptor, dir, script string, out io.Writer) error {
	f.calls = append(f.calls, "script:"+filepath.Base(script))
	return f.scriptErr
}

type fakePorts struct {
	inUse  bool
	pid    int32
	err    error
	called bool
}

func (f *fakePorts) Check(ctx context.Context, host string, port int) (bool, int32, error) {
	f.called = true
	return f.inUse, f.pid, f.err
}

type fakeBrowser struct {
	urls []string
}

func (f *fakeBrowser) Open(ctx context.Context, url string, timeout time.Duration) {
	f.urls = append(f.urls, url)
}

type fakeRunner struct {
	err    error
	called bool
	desc   pyenv.Descriptor
	spec   ServerSpec
}

func (f *fakeRunner) Run(ctx context.Context, d pyenv.Descriptor, spec ServerSpec) error {
	f.called = true
	f.desc = d
	f.spec = spec
	return f.err
}

// fixture builds a project tree and a config pointing at it. Every file the
// happy path needs is present unless the test removes it.
func fixture(t *testing.T) *config.Model {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Layout.ProjectRoot = root

	require.NoError(t, os.MkdirAll(filepath.Join(root, "backend", "data"), 0o755))
	require.NoError(t, os.WriteFile(cfg.EntryPath(), []byte("app = None\n"), 0o600))
	require.NoError(t, os.WriteFile(cfg.RequirementsPath(), []byte("fastapi\nuvicorn\n"), 0o600))
	require.NoError(t, os.WriteFile(cfg.DataPath(), []byte("[]"), 0o600))
	return cfg
}

func newLauncher(cfg *config.Model, tools *fakeTools, ports *fakePorts, br *fakeBrowser, runner *fakeRunner) *Launcher {
	return New(cfg, tools, ports, br, runner, io.Discard)
}

func happyTools() *fakeTools {
	return &fakeTools{
		desc:     pyenv.Descriptor{Python: "/usr/bin/python3", Version: "Python 3.12.1", Venv: true},
		markerOK: true,
	}
}

func asFailure(t *testing.T, err error) *Failure {
	t.Helper()
	var f *Failure
	require.ErrorAs(t, err, &f)
	return f
}

func TestLaunch_HappyPath(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools, ports, br, runner := happyTools(), &fakePorts{}, &fakeBrowser{}, &fakeRunner{}
	l := newLauncher(cfg, tools, ports, br, runner)

	require.NoError(t, l.Launch(context.Background()))

	assert.Equal(t, []State{
		StateInit,
		StateEnvironmentResolved,
		StateDependenciesSatisfied,
		StatePortAvailable,
		StateRunning,
	}, l.Trace())

	assert.Equal(t, []string{"http://127.0.0.1:8000/"}, br.urls, "browser open targets the configured URL")
	assert.Zero(t, tools.installCount, "install must be skipped when the marker package is importable")

	require.True(t, runner.called)
	assert.Equal(t, cfg.BackendPath(), runner.spec.Dir)
	assert.Equal(t, "app:app", runner.spec.App)
	assert.Equal(t, "127.0.0.1", runner.spec.Host)
	assert.Equal(t, 8000, runner.spec.Port)
	assert.True(t, runner.spec.Reload)
}

func TestLaunch_MissingBackendDirectory(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Layout.ProjectRoot = t.TempDir() // no backend/ inside
	tools, ports, runner := happyTools(), &fakePorts{}, &fakeRunner{}
	l := newLauncher(cfg, tools, ports, &fakeBrowser{}, runner)

	err := l.Launch(context.Background())
	f := asFailure(t, err)

	assert.Equal(t, MissingDirectory, f.Kind)
	assert.Empty(t, tools.calls, "no subprocess may be spawned before the directory check")
	assert.False(t, ports.called)
	assert.False(t, runner.called)
	assert.Equal(t, []State{StateInit, StateFailed}, l.Trace())
}

func TestLaunch_InterpreterNotFound(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools := happyTools()
	tools.resolveErr = pyenv.ErrInterpreterNotFound
	l := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, &fakeRunner{})

	f := asFailure(t, l.Launch(context.Background()))
	assert.Equal(t, InterpreterNotFound, f.Kind)
	assert.Contains(t, f.Remedy, "python.org")
}

func TestLaunch_PackageManagerUnavailable(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools := happyTools()
	tools.pipErr = errors.New("No module named pip")
	l := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, &fakeRunner{})

	f := asFailure(t, l.Launch(context.Background()))
	assert.Equal(t, PackageManagerUnavailable, f.Kind)
	assert.Contains(t, f.Remedy, "ensurepip")
}

func TestLaunch_MissingEntryPoint(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	require.NoError(t, os.Remove(cfg.EntryPath()))
	l := newLauncher(cfg, happyTools(), &fakePorts{}, &fakeBrowser{}, &fakeRunner{})

	f := asFailure(t, l.Launch(context.Background()))
	assert.Equal(t, MissingEntryPoint, f.Kind)
}

func TestLaunch_MissingDataFile(t *testing.T) {
	t.Parallel()

	t.Run("warn policy continues", func(t *testing.T) {
		t.Parallel()
		cfg := fixture(t)
		require.NoError(t, os.Remove(cfg.DataPath()))
		cfg.Launcher.OnMissingData = config.MissingDataWarn
		runner := &fakeRunner{}
		l := newLauncher(cfg, happyTools(), &fakePorts{}, &fakeBrowser{}, runner)

		require.NoError(t, l.Launch(context.Background()))
		assert.True(t, runner.called)
	})

	t.Run("fatal policy aborts", func(t *testing.T) {
		t.Parallel()
		cfg := fixture(t)
		require.NoError(t, os.Remove(cfg.DataPath()))
		cfg.Launcher.OnMissingData = config.MissingDataFatal
		runner := &fakeRunner{}
		l := newLauncher(cfg, happyTools(), &fakePorts{}, &fakeBrowser{}, runner)

		f := asFailure(t, l.Launch(context.Background()))
		assert.Equal(t, MissingDataFile, f.Kind)
		assert.False(t, runner.called)
	})
}

func TestLaunch_InstallsExactlyOnceWhenMarkerMissing(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools := happyTools()
	tools.markerOK = false
	l := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, &fakeRunner{})

	require.NoError(t, l.Launch(context.Background()))

	assert.Equal(t, 1, tools.installCount)
	assert.Equal(t, cfg.RequirementsPath(), tools.installReq, "install must target the exact requirements path")
}

func TestLaunch_DependencyInstallFailed(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools := happyTools()
	tools.markerOK = false
	tools.installErr = errors.New("pip install failed: exit status 1")
	runner := &fakeRunner{}
	l := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, runner)

	f := asFailure(t, l.Launch(context.Background()))
	assert.Equal(t, DependencyInstallFailed, f.Kind)
	assert.Contains(t, f.Remedy, "-m pip install -r "+cfg.RequirementsPath())
	assert.False(t, runner.called)
}

func TestLaunch_EntryPointLoadFailed_SurfacesOriginalError(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools := happyTools()
	tools.probeErr = errors.New("import of \"app\" failed:\nValueError: OPENAI_API_KEY is not set")
	l := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, &fakeRunner{})

	f := asFailure(t, l.Launch(context.Background()))
	assert.Equal(t, EntryPointLoadFailed, f.Kind)
	assert.Contains(t, f.Err.Error(), "OPENAI_API_KEY is not set", "the underlying error must not be swallowed")
}

func TestLaunch_PortInUse(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	ports := &fakePorts{inUse: true, pid: 4242}
	br := &fakeBrowser{}
	runner := &fakeRunner{}
	l := newLauncher(cfg, happyTools(), ports, br, runner)

	f := asFailure(t, l.Launch(context.Background()))
	assert.Equal(t, PortInUse, f.Kind)
	assert.Contains(t, f.Err.Error(), "pid 4242")
	assert.False(t, runner.called, "the backend must not be started on a busy port")
	assert.Empty(t, br.urls)
}

func TestLaunch_PortCheckErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	ports := &fakePorts{err: errors.New("socket enumeration denied")}
	runner := &fakeRunner{}
	l := newLauncher(cfg, happyTools(), ports, &fakeBrowser{}, runner)

	require.NoError(t, l.Launch(context.Background()))
	assert.True(t, runner.called)
}

func TestLaunch_RerunIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	tools := happyTools()

	first := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, &fakeRunner{})
	require.NoError(t, first.Launch(context.Background()))

	second := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, &fakeRunner{})
	require.NoError(t, second.Launch(context.Background()))

	assert.Equal(t, first.Trace(), second.Trace(), "unchanged environment must replay the same step sequence")
	assert.Zero(t, tools.installCount, "no duplicate install across runs")
}

func TestLaunch_BrowserDisabled(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	cfg.Launcher.OpenBrowser = false
	br := &fakeBrowser{}
	l := newLauncher(cfg, happyTools(), &fakePorts{}, br, &fakeRunner{})

	require.NoError(t, l.Launch(context.Background()))
	assert.Empty(t, br.urls)
}

func TestLaunch_ValidateDataIsAdvisory(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	cfg.Launcher.ValidateData = true
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.ValidateScriptPath()), 0o755))
	require.NoError(t, os.WriteFile(cfg.ValidateScriptPath(), []byte("raise SystemExit(1)\n"), 0o600))

	tools := happyTools()
	tools.scriptErr = errors.New("exit status 1")
	runner := &fakeRunner{}
	l := newLauncher(cfg, tools, &fakePorts{}, &fakeBrowser{}, runner)

	require.NoError(t, l.Launch(context.Background()))
	assert.Contains(t, tools.calls, "script:validate_bank.py")
	assert.True(t, runner.called, "validation problems must not abort the launch")
}

func TestLaunch_RunnerErrorPropagates(t *testing.T) {
	t.Parallel()

	cfg := fixture(t)
	runner := &fakeRunner{err: errors.New("exit status 3")}
	l := newLauncher(cfg, happyTools(), &fakePorts{}, &fakeBrowser{}, runner)

	err := l.Launch(context.Background())
	require.Error(t, err)
	var f *Failure
	assert.False(t, errors.As(err, &f), "backend exit errors are not pre-flight failures")
	assert.Equal(t, []State{
		StateInit,
		StateEnvironmentResolved,
		StateDependenciesSatisfied,
		StatePortAvailable,
		StateRunning,
	}, l.Trace(), "the launch itself reached Running; the server's own exit is separate")
}
