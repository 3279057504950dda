// Package config defines the launcher's configuration model and the layered
// loading that fills it: built-in defaults, optional HCL files, then
// VERRACO_* environment variable overrides. The resolved model is immutable
// for the lifetime of a launch.
package config
