// Package log prints progress, warnings and errors for roiloc.
//
// Console lines go to stderr and are styled with lipgloss. Warnings and
// errors are always shown unless the mode is SilentMode, so per-subject
// failures are never hidden behind a debug switch. When a log file is
// configured every line is mirrored there through a rotating lumberjack
// writer.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/natefinch/lumberjack"
)

// Mode is the minimum severity printed on the console.
type Mode uint

const (
	DebugMode Mode = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

// ParseMode maps "debug", "info", "warning", "error" and "silent" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "debug":
		return DebugMode, nil
	case "", "info":
		return InfoMode, nil
	case "warning", "warn":
		return WarningMode, nil
	case "error":
		return ErrorMode, nil
	case "silent":
		return SilentMode, nil
	}
	return InfoMode, fmt.Errorf("unknown log mode %q", s)
}

var (
	mu      sync.Mutex
	mode    = InfoMode
	console io.Writer = os.Stderr
	file    *stdlog.Logger
	closer  io.Closer

	stepStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	warnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	debugStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("8"))
)

// LogConfig configures the optional rotating log file.
type LogConfig struct {
	Logfile string `yaml:"logfile" mapstructure:"logfile"`
	MaxSize int    `yaml:"maxSize" mapstructure:"maxsize"` // megabytes
	MaxAge  int    `yaml:"maxAge" mapstructure:"maxage"`   // days
}

// SetLogger mirrors log lines into a rotating file. The returned function
// closes the file; it is safe to call when no file was configured.
func (c *LogConfig) SetLogger() func() {
	if c == nil || c.Logfile == "" {
		return func() {}
	}
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	mu.Lock()
	file = stdlog.New(l, "", stdlog.LstdFlags)
	closer = l
	mu.Unlock()
	Debugf("Sending log messages to: %s", c.Logfile)
	return Shutdown
}

// Shutdown closes the log file, if any.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
	}
	file = nil
	closer = nil
}

// SetMode sets the minimum severity shown on the console.
func SetMode(m Mode) {
	mu.Lock()
	mode = m
	mu.Unlock()
}

// SetOutput redirects console output and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := console
	console = w
	return prev
}

func emit(min Mode, level string, style lipgloss.Style, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Printf("%s %s", level, msg)
	}
	if mode == SilentMode || mode > min {
		return
	}
	fmt.Fprintln(console, style.Render(msg))
}

// Debugf is shown only in DebugMode.
func Debugf(format string, args ...interface{}) {
	emit(DebugMode, "DEBUG", debugStyle, format, args...)
}

// Infof prints plain progress information.
func Infof(format string, args ...interface{}) {
	emit(InfoMode, "INFO", lipgloss.NewStyle(), format, args...)
}

// Stepf prints a highlighted progress line, e.g. the subject being processed.
func Stepf(format string, args ...interface{}) {
	emit(InfoMode, "INFO", stepStyle, format, args...)
}

// Successf prints a highlighted completion line.
func Successf(format string, args ...interface{}) {
	emit(InfoMode, "INFO", successStyle, format, args...)
}

// Warningf reports a condition the run recovers from.
func Warningf(format string, args ...interface{}) {
	emit(ErrorMode, "WARNING", warnStyle, "Warning: "+format, args...)
}

// Errorf reports a failure of one subject or of the whole run.
func Errorf(format string, args ...interface{}) {
	emit(ErrorMode, "ERROR", errorStyle, "Error: "+format, args...)
}
