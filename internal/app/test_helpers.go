package app

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates an App for tests: debug logging into a captured
// buffer, non-interactive, reading a closed stdin.
func SetupAppTest(t *testing.T, appConfig *Config) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	appConfig.LogLevel = "debug"
	testApp, err := NewApp(logBuffer, appConfig)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	testApp.interactive = func() bool { return false }
	testApp.inR = strings.NewReader("")

	t.Cleanup(func() {
		if os.Getenv("VERRACO_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
