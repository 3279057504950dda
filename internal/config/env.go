package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides is the VERRACO_* environment overlay. Pointer fields
// distinguish "unset" from a zero value.
type envOverrides struct {
	Host          *string `env:"VERRACO_HOST"`
	Port          *int    `env:"VERRACO_PORT"`
	ProjectRoot   *string `env:"VERRACO_ROOT"`
	OnMissingData *string `env:"VERRACO_ON_MISSING_DATA"`
	OpenBrowser   *bool   `env:"VERRACO_OPEN_BROWSER"`
	UseVenv       *bool   `env:"VERRACO_USE_VENV"`
}

// applyEnv overlays environment variables onto the model.
func applyEnv(model *Model) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&model.Server.Host, overrides.Host)
	setInt(&model.Server.Port, overrides.Port)
	setString(&model.Layout.ProjectRoot, overrides.ProjectRoot)
	setBool(&model.Launcher.OpenBrowser, overrides.OpenBrowser)
	setBool(&model.Python.UseVenv, overrides.UseVenv)
	if overrides.OnMissingData != nil {
		model.Launcher.OnMissingData = MissingDataPolicy(*overrides.OnMissingData)
	}
	return nil
}
