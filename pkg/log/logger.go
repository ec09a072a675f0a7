package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	pipeerrors "github.com/YuminosukeSato/pipelab/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

var (
	providerMu     sync.RWMutex
	globalProvider LoggerProvider = NewZerologProvider(LevelInfo)
)

// ParseLevel converts a configuration string into a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// ToLogLevel is like ParseLevel but panics on an unknown level.
func ToLogLevel(level string) Level {
	l, err := ParseLevel(level)
	if err != nil {
		panic(fmt.Sprintf("invalid log level :%s", level))
	}
	return l
}

// Setup installs a zerolog provider as the process-wide provider.
// format is "json" or "console". Records use "severity" and "message" keys
// so they can be ingested by CloudLogging as-is.
func Setup(level, format string, w io.Writer) (LoggerProvider, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stdout
	}

	var console bool
	switch strings.ToLower(format) {
	case "json", "":
	case "console", "text":
		console = true
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	zerolog.LevelFieldName = "severity"
	zerolog.MessageFieldName = "message"

	provider := NewZerologProviderWithWriter(w, lvl, console)
	SetProvider(provider)

	warnLogger := provider.GetLoggerWithName("warnings")
	pipeerrors.SetZerologWarnFunc(func(warning error) {
		fields := []any{"warning", warning}
		var cw *pipeerrors.ConvergenceWarning
		if pipeerrors.As(warning, &cw) {
			fields = append(fields, ErrorCodeKey, ErrorConvergence)
		}
		warnLogger.Warn(warning.Error(), fields...)
	})
	return provider, nil
}

// SetProvider replaces the process-wide provider.
func SetProvider(p LoggerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = p
}

// GetProvider returns the process-wide provider.
func GetProvider() LoggerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return globalProvider
}

// GetLogger returns the default logger of the process-wide provider.
func GetLogger() Logger {
	return GetProvider().GetLogger()
}

// GetLoggerWithName returns a component logger of the process-wide provider.
func GetLoggerWithName(name string) Logger {
	return GetProvider().GetLoggerWithName(name)
}
