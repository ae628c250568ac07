package util

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	pterm.DefaultLogger.Writer = os.Stderr
}

// Leveled logging functions backed by pterm's default logger.
// Output goes to stderr so stdout stays free for piped payloads.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects all log output, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}

// Tagged prefixes every line with a short hex id so interleaved logs from
// several channels stay readable.
type Tagged struct {
	ID uint32
}

// Tag returns a Tagged logger keyed by the hash of name.
func Tag(name string) Tagged {
	return Tagged{ID: ShortID(name)}
}

func (l Tagged) Debug(format string, args ...interface{}) {
	LogDebug("[%08x] %s", l.ID, fmt.Sprintf(format, args...))
}

func (l Tagged) Info(format string, args ...interface{}) {
	LogInfo("[%08x] %s", l.ID, fmt.Sprintf(format, args...))
}

func (l Tagged) Warning(format string, args ...interface{}) {
	LogWarning("[%08x] %s", l.ID, fmt.Sprintf(format, args...))
}

func (l Tagged) Error(format string, args ...interface{}) {
	LogError("[%08x] %s", l.ID, fmt.Sprintf(format, args...))
}
