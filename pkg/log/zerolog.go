package log

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ZerologLogger implements Logger on top of zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

func (z *ZerologLogger) enabled(l Level) bool {
	return Level(z.level.Load()) <= l
}

// Debug implements Logger.Debug.
func (z *ZerologLogger) Debug(msg string, fields ...any) {
	if !z.enabled(LevelDebug) {
		return
	}
	z.logger.Debug().Fields(fields).Msg(msg)
}

// Info implements Logger.Info.
func (z *ZerologLogger) Info(msg string, fields ...any) {
	if !z.enabled(LevelInfo) {
		return
	}
	z.logger.Info().Fields(fields).Msg(msg)
}

// Warn implements Logger.Warn.
func (z *ZerologLogger) Warn(msg string, fields ...any) {
	if !z.enabled(LevelWarn) {
		return
	}
	z.logger.Warn().Fields(fields).Msg(msg)
}

// Error implements Logger.Error. A leading error value is attached with its
// stack trace, the remaining fields are key-value pairs.
func (z *ZerologLogger) Error(msg string, fields ...any) {
	if !z.enabled(LevelError) {
		return
	}
	e := z.logger.Error()
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			e = e.Err(err)
			if st := extractStacktrace(err); st != "" {
				e = e.Str(StacktraceAttrKey, st)
			}
			fields = fields[1:]
		}
	}
	e.Fields(fields).Msg(msg)
}

// With implements Logger.With.
func (z *ZerologLogger) With(fields ...any) Logger {
	return &ZerologLogger{
		logger: z.logger.With().Fields(fields).Logger(),
		level:  z.level,
	}
}

// Enabled implements Logger.Enabled.
func (z *ZerologLogger) Enabled(_ context.Context, level Level) bool {
	return z.enabled(level)
}

func extractStacktrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

// ZerologProvider creates ZerologLogger instances that share one writer and
// one level. SetLevel affects loggers already handed out.
type ZerologProvider struct {
	base  zerolog.Logger
	level *atomic.Int32
}

// NewZerologProvider returns a JSON provider writing to stdout.
func NewZerologProvider(level Level) *ZerologProvider {
	return NewZerologProviderWithWriter(os.Stdout, level, false)
}

// NewZerologProviderWithWriter returns a provider writing to w. When console is
// true records are rendered with zerolog.ConsoleWriter.
func NewZerologProviderWithWriter(w io.Writer, level Level, console bool) *ZerologProvider {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lv := &atomic.Int32{}
	lv.Store(int32(level))
	return &ZerologProvider{
		base:  zerolog.New(w).With().Timestamp().Logger(),
		level: lv,
	}
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *ZerologProvider) GetLogger() Logger {
	return &ZerologLogger{logger: p.base, level: p.level}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *ZerologProvider) GetLoggerWithName(name string) Logger {
	return &ZerologLogger{
		logger: p.base.With().Str(ComponentKey, name).Logger(),
		level:  p.level,
	}
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *ZerologProvider) SetLevel(level Level) {
	p.level.Store(int32(level))
}
