package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	args := []string{"-h"}
	out := &bytes.Buffer{}

	err := run(out, args)

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	err := run(out, args)

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_ConfigLoadError(t *testing.T) {
	t.Parallel()

	// A config file with a syntax error must surface as a startup error,
	// never reach the pre-flight sequence.
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "launcher.hcl")
	err := os.WriteFile(filePath, []byte(`server { port = `), 0o600)
	require.NoError(t, err, "failed to set up test file")

	out := &bytes.Buffer{}
	runErr := run(out, []string{"-config", filePath})

	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "failed to parse")
}

func TestRun_MissingConfigPath(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"-config", filepath.Join(t.TempDir(), "dne.hcl")})

	require.Error(t, err)
}
