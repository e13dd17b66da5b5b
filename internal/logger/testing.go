package logger

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// EnvTestLevel names the environment variable that raises test logging,
// for example REH_TEST_LOG=debug.
const EnvTestLevel = "REH_TEST_LOG"

// NewTestLogger returns a text logger on stderr that stays quiet below WARN
// unless REH_TEST_LOG names a lower level.
func NewTestLogger() *slog.Logger {
	cfg := Config{Level: slog.LevelWarn, Format: "text"}
	if v := os.Getenv(EnvTestLevel); v != "" {
		if level, err := ParseLevel(v); err == nil {
			cfg.Level = level
		}
	}
	return NewLogger(cfg)
}

// Capture collects log output for assertions. It is safe for concurrent
// writers such as the producer goroutine and bus handlers.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewCaptureLogger returns a text logger at level writing into a Capture.
func NewCaptureLogger(level slog.Level) (*slog.Logger, *Capture) {
	c := &Capture{}
	return NewLogger(Config{Level: level, Format: "text", Output: c}), c
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Lines returns the records written so far.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := strings.TrimSpace(c.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// String returns everything written so far.
func (c *Capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
