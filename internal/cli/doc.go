// Package cli parses command-line arguments into an app.Config and defines
// the ExitError carrying process exit codes.
package cli
