package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// MissingDataPolicy selects how a missing content bank is treated during
// pre-flight. The source launchers disagreed on this, so it is explicit.
type MissingDataPolicy string

const (
	// MissingDataWarn logs a warning and continues; the backend falls back
	// to its bundled sample bank.
	MissingDataWarn MissingDataPolicy = "warn"
	// MissingDataFatal aborts the launch.
	MissingDataFatal MissingDataPolicy = "fatal"
)

// Server describes the network target the backend is started on.
type Server struct {
	Host   string
	Port   int
	Reload bool
	// App is the module:attribute reference handed to the ASGI dev server.
	App string
}

// Layout describes where the backend lives relative to the project root.
// All fields except ProjectRoot are relative paths.
type Layout struct {
	ProjectRoot  string
	BackendDir   string
	EntryModule  string
	Requirements string
	DataFile     string
}

// Python describes interpreter and dependency-management policy.
type Python struct {
	MarkerPackage   string
	VenvDir         string
	UseVenv         bool
	UserSiteInstall bool
}

// Launcher holds the launcher's own behavior knobs.
type Launcher struct {
	OpenBrowser    bool
	BrowserTimeout time.Duration
	OnMissingData  MissingDataPolicy
	ProbeTimeout   time.Duration
	ValidateData   bool
	ValidateScript string
}

// Model is the fully resolved launcher configuration.
type Model struct {
	Server   Server
	Layout   Layout
	Python   Python
	Launcher Launcher
}

// Default returns the model carrying the constants of the original
// platform launchers.
func Default() *Model {
	return &Model{
		Server: Server{
			Host:   "127.0.0.1",
			Port:   8000,
			Reload: true,
			App:    "app:app",
		},
		Layout: Layout{
			BackendDir:   "backend",
			EntryModule:  "app.py",
			Requirements: "requirements.txt",
			DataFile:     "data/passages.json",
		},
		Python: Python{
			MarkerPackage: "fastapi",
			VenvDir:       ".venv",
			UseVenv:       true,
		},
		Launcher: Launcher{
			OpenBrowser:    true,
			BrowserTimeout: 3 * time.Second,
			OnMissingData:  MissingDataWarn,
			ProbeTimeout:   10 * time.Second,
			ValidateScript: "scripts/validate_bank.py",
		},
	}
}

// Validate checks the model for values no launch could succeed with.
func (m *Model) Validate() error {
	if m.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if m.Server.Port < 1 || m.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", m.Server.Port)
	}
	if m.Server.App == "" {
		return fmt.Errorf("server.app must not be empty")
	}
	if m.Layout.BackendDir == "" {
		return fmt.Errorf("layout.backend_dir must not be empty")
	}
	if m.Python.MarkerPackage == "" {
		return fmt.Errorf("python.marker_package must not be empty")
	}
	switch m.Launcher.OnMissingData {
	case MissingDataWarn, MissingDataFatal:
	default:
		return fmt.Errorf("launcher.on_missing_data: %q is not 'warn' or 'fatal'", m.Launcher.OnMissingData)
	}
	return nil
}

// BackendPath returns the absolute backend directory.
func (m *Model) BackendPath() string {
	return filepath.Join(m.Layout.ProjectRoot, m.Layout.BackendDir)
}

// EntryPath returns the absolute path of the backend entry module.
func (m *Model) EntryPath() string {
	return filepath.Join(m.BackendPath(), m.Layout.EntryModule)
}

// RequirementsPath returns the absolute path of the dependency manifest.
func (m *Model) RequirementsPath() string {
	return filepath.Join(m.BackendPath(), m.Layout.Requirements)
}

// DataPath returns the absolute path of the content bank.
func (m *Model) DataPath() string {
	return filepath.Join(m.BackendPath(), m.Layout.DataFile)
}

// ValidateScriptPath returns the absolute path of the bank validation script.
func (m *Model) ValidateScriptPath() string {
	return filepath.Join(m.BackendPath(), m.Launcher.ValidateScript)
}

// VenvPath returns the absolute path of the project-local virtual
// environment directory.
func (m *Model) VenvPath() string {
	return filepath.Join(m.Layout.ProjectRoot, m.Python.VenvDir)
}

// Addr returns the host:port pair the backend binds to.
func (m *Model) Addr() string {
	return net.JoinHostPort(m.Server.Host, strconv.Itoa(m.Server.Port))
}

// URL returns the browser-facing URL for the backend.
func (m *Model) URL() string {
	return fmt.Sprintf("http://%s/", m.Addr())
}
