package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/verraco/launcher/internal/ctxlog"
	"github.com/verraco/launcher/internal/fsutil"
)

// hclFile is the top-level structure of a launcher config file for decoding.
// Every block and attribute is optional; absent values keep their defaults.
type hclFile struct {
	Server   *hclServer   `hcl:"server,block"`
	Layout   *hclLayout   `hcl:"layout,block"`
	Python   *hclPython   `hcl:"python,block"`
	Launcher *hclLauncher `hcl:"launcher,block"`
}

type hclServer struct {
	Host   *string `hcl:"host,optional"`
	Port   *int    `hcl:"port,optional"`
	Reload *bool   `hcl:"reload,optional"`
	App    *string `hcl:"app,optional"`
}

type hclLayout struct {
	ProjectRoot  *string `hcl:"project_root,optional"`
	BackendDir   *string `hcl:"backend_dir,optional"`
	EntryModule  *string `hcl:"entry_module,optional"`
	Requirements *string `hcl:"requirements,optional"`
	DataFile     *string `hcl:"data_file,optional"`
}

type hclPython struct {
	MarkerPackage   *string `hcl:"marker_package,optional"`
	VenvDir         *string `hcl:"venv_dir,optional"`
	UseVenv         *bool   `hcl:"use_venv,optional"`
	UserSiteInstall *bool   `hcl:"user_site_install,optional"`
}

type hclLauncher struct {
	OpenBrowser    *bool   `hcl:"open_browser,optional"`
	BrowserTimeout *string `hcl:"browser_timeout,optional"`
	OnMissingData  *string `hcl:"on_missing_data,optional"`
	ProbeTimeout   *string `hcl:"probe_timeout,optional"`
	ValidateData   *bool   `hcl:"validate_data,optional"`
	ValidateScript *string `hcl:"validate_script,optional"`
}

// Load resolves the launcher configuration: defaults, then any .hcl files
// found at configPath (a file or a directory, merged in lexical walk order),
// then VERRACO_* environment variables. A missing configPath is fatal; an
// empty configPath skips the file layer entirely.
func Load(ctx context.Context, configPath string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := Default()

	if configPath != "" {
		files, err := fsutil.FindFilesByExtension(configPath, ".hcl")
		if err != nil {
			return nil, fmt.Errorf("failed to find config files in %s: %w", configPath, err)
		}
		if len(files) == 0 {
			logger.Warn("No .hcl config files found, using defaults", "path", configPath)
		}
		parser := hclparse.NewParser()
		evalCtx := evalContext()
		for _, file := range files {
			if err := applyHCLFile(model, file, parser, evalCtx); err != nil {
				return nil, err
			}
			logger.Debug("Config file applied.", "file", file)
		}
	}

	if err := applyEnv(model); err != nil {
		return nil, err
	}

	if model.Layout.ProjectRoot == "" {
		model.Layout.ProjectRoot = detectProjectRoot(model.Layout.BackendDir)
		logger.Debug("Project root detected.", "project_root", model.Layout.ProjectRoot)
	}
	if abs, err := filepath.Abs(model.Layout.ProjectRoot); err == nil {
		model.Layout.ProjectRoot = abs
	}

	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return model, nil
}

// applyHCLFile parses one file and overlays its non-absent values onto model.
func applyHCLFile(model *Model, path string, parser *hclparse.Parser, evalCtx *hcl.EvalContext) error {
	hclF, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(hclF.Body, evalCtx, &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	if b := parsed.Server; b != nil {
		setString(&model.Server.Host, b.Host)
		setInt(&model.Server.Port, b.Port)
		setBool(&model.Server.Reload, b.Reload)
		setString(&model.Server.App, b.App)
	}
	if b := parsed.Layout; b != nil {
		setString(&model.Layout.ProjectRoot, b.ProjectRoot)
		setString(&model.Layout.BackendDir, b.BackendDir)
		setString(&model.Layout.EntryModule, b.EntryModule)
		setString(&model.Layout.Requirements, b.Requirements)
		setString(&model.Layout.DataFile, b.DataFile)
	}
	if b := parsed.Python; b != nil {
		setString(&model.Python.MarkerPackage, b.MarkerPackage)
		setString(&model.Python.VenvDir, b.VenvDir)
		setBool(&model.Python.UseVenv, b.UseVenv)
		setBool(&model.Python.UserSiteInstall, b.UserSiteInstall)
	}
	if b := parsed.Launcher; b != nil {
		setBool(&model.Launcher.OpenBrowser, b.OpenBrowser)
		setBool(&model.Launcher.ValidateData, b.ValidateData)
		setString(&model.Launcher.ValidateScript, b.ValidateScript)
		if b.OnMissingData != nil {
			model.Launcher.OnMissingData = MissingDataPolicy(*b.OnMissingData)
		}
		if err := setDuration(&model.Launcher.BrowserTimeout, b.BrowserTimeout); err != nil {
			return fmt.Errorf("%s: launcher.browser_timeout: %w", path, err)
		}
		if err := setDuration(&model.Launcher.ProbeTimeout, b.ProbeTimeout); err != nil {
			return fmt.Errorf("%s: launcher.probe_timeout: %w", path, err)
		}
	}
	return nil
}

// evalContext builds the evaluation context config expressions run under.
// It exposes the process environment as an `env` object so paths can be
// written as e.g. `project_root = env.HOME`.
func evalContext() *hcl.EvalContext {
	vals := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		vals[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vals),
		},
	}
}

// detectProjectRoot mirrors the original scripts, which treat the directory
// containing the launcher as the project root. When the launcher binary
// lives elsewhere (go run, installed to PATH) the working directory wins if
// it looks like a project.
func detectProjectRoot(backendDir string) string {
	cwd, _ := os.Getwd()
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		if fsutil.DirExists(filepath.Join(exeDir, backendDir)) {
			return exeDir
		}
	}
	if cwd != "" {
		return cwd
	}
	return "."
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
