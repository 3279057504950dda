package app

// Config holds the CLI-level knobs for one App instance. Everything about
// the launch itself lives in the config.Model resolved at startup.
type Config struct {
	// ConfigPath points at a launcher.hcl file or a directory of .hcl
	// files. Empty means built-in defaults only.
	ConfigPath string

	LogFormat string
	LogLevel  string

	// NoBrowser suppresses the best-effort browser open regardless of
	// configuration.
	NoBrowser bool
}

// NewConfig validates and returns the CLI-level configuration.
func NewConfig(cfg Config) (*Config, error) {
	// All fields are optional; log format/level are validated by the CLI
	// parser before they reach here.
	return &cfg, nil
}
