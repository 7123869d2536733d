package pkg

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Bus master component identifiers.
const (
	ComponentMaster Component = "master"
	ComponentQueue  Component = "queue"
	ComponentDAT    Component = "dat"
	ComponentDAA    Component = "daa"
	ComponentIBI    Component = "ibi"
	ComponentBus    Component = "bus"
	ComponentHAL    Component = "hal"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the default logger used by the bus master.
	DefaultLogger *slog.Logger

	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum log level for all bus master logging.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The logger writes to os.Stderr and uses the current log level.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	opts := &slog.HandlerOptions{Level: logLevel}
	switch format {
	case LogFormatJSON:
		DefaultLogger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	default:
		DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Debug(msg, append([]any{"component", string(component)}, args...)...)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Info(msg, append([]any{"component", string(component)}, args...)...)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Warn(msg, append([]any{"component", string(component)}, args...)...)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Error(msg, append([]any{"component", string(component)}, args...)...)
}

// hex8 formats a byte-wide bus value when the record is emitted.
type hex8 uint8

func (h hex8) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("0x%02x", uint8(h)))
}

// pid48 formats a 48-bit provisioned ID when the record is emitted.
type pid48 uint64

func (p pid48) LogValue() slog.Value {
	return slog.StringValue(fmt.Sprintf("0x%012x", uint64(p)&0xffffffffffff))
}

// AddrAttr returns an attribute rendering a 7-bit bus address as 0xNN.
func AddrAttr(key string, addr uint8) slog.Attr {
	return slog.Any(key, hex8(addr))
}

// PIDAttr returns a "pid" attribute rendering a provisioned ID as twelve
// hex digits.
func PIDAttr(pid uint64) slog.Attr {
	return slog.Any("pid", pid48(pid))
}

// DeviceAttrs returns the attributes identifying a device in logs: its
// dynamic address, provisioned ID and characteristic registers.
func DeviceAttrs(addr uint8, pid uint64, bcr, dcr uint8) []any {
	return []any{
		AddrAttr("addr", addr),
		PIDAttr(pid),
		slog.Any("bcr", hex8(bcr)),
		slog.Any("dcr", hex8(dcr)),
	}
}
