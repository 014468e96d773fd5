// Package log provides the package-level structured logger used throughout
// this module, backed by zerolog as the corpus's own log/gcp.go sink
// anticipates (it hands a zerolog.LevelWriter to a cloud logging client).
package log

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Configure replaces the package logger's level and output format. pretty
// selects the human-readable console writer used in development; when
// false, raw JSON is emitted instead, suitable for ingestion by a log
// collector.
func Configure(level zerolog.Level, pretty bool) {
	var w zerolog.LevelWriter
	if pretty {
		w = zerologConsoleWriter{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}
	} else {
		w = zerologJSONWriter{os.Stderr}
	}
	logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

type zerologConsoleWriter struct{ zerolog.ConsoleWriter }

func (w zerologConsoleWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	return w.ConsoleWriter.Write(p)
}

type zerologJSONWriter struct{ w *os.File }

func (j zerologJSONWriter) Write(p []byte) (int, error)                     { return j.w.Write(p) }
func (j zerologJSONWriter) WriteLevel(_ zerolog.Level, p []byte) (int, error) { return j.w.Write(p) }

func Debugf(format string, a ...any)   { logger.Debug().Msg(fmt.Sprintf(format, a...)) }
func Infof(format string, a ...any)    { logger.Info().Msg(fmt.Sprintf(format, a...)) }
func Warningf(format string, a ...any) { logger.Warn().Msg(fmt.Sprintf(format, a...)) }
func Errorf(format string, a ...any)   { logger.Error().Msg(fmt.Sprintf(format, a...)) }
func Fatalf(format string, a ...any)   { logger.Fatal().Msg(fmt.Sprintf(format, a...)) }

// CtxWarningf attaches a correlation id, if any is present on ctx, ahead of
// logging at warn level.
func CtxWarningf(ctx context.Context, format string, a ...any) {
	logger.Warn().Str("correlation_id", correlationID(ctx)).Msg(fmt.Sprintf(format, a...))
}

func CtxErrorf(ctx context.Context, format string, a ...any) {
	logger.Error().Str("correlation_id", correlationID(ctx)).Msg(fmt.Sprintf(format, a...))
}

type correlationIDKey struct{}

// WithCorrelationID returns a context tagging subsequent Ctx* log lines with id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return v
	}
	return ""
}

// OnceFlag is a one-shot latch: Fire runs fn the first time it is called
// across all goroutines, and is a no-op on every subsequent call. It backs
// the "emit one diagnostic, then go silent" requirement for identity
// providers that don't support versioned identities, mirroring the
// corpus's atomic-flag latch idiom (server/util/lockmap's collected flag).
type OnceFlag struct {
	fired atomic.Bool
}

func (o *OnceFlag) Fire(fn func()) {
	if o.fired.CompareAndSwap(false, true) {
		fn()
	}
}
