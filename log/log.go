// Package log provides a thin wrapper around zerolog with the leveled,
// key-value API used across the repository. It must be initialized once
// with Init; before that, logs go to stderr at info level.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	logger zerolog.Logger
	level  string
)

func init() {
	logger = zerolog.New(consoleWriter(os.Stderr)).Level(zerolog.InfoLevel).With().Timestamp().Logger()
	level = LogLevelInfo
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// Init initializes the logger with the given level ("debug", "info", "warn",
// "error") and output ("stdout", "stderr" or a file path).
func Init(logLevel, output string) {
	var out io.Writer
	switch output {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %q: %v", output, err))
		}
		out = f
	}
	zl, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		zl = zerolog.InfoLevel
		logLevel = LogLevelInfo
	}
	level = strings.ToLower(logLevel)
	logger = zerolog.New(consoleWriter(out)).Level(zl).With().Timestamp().Logger()
}

// Level returns the current log level string.
func Level() string {
	return level
}

func withFields(ev *zerolog.Event, kv ...any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		ev = ev.Interface(key, kv[i+1])
	}
	return ev
}

func Debug(args ...any)             { logger.Debug().Msg(fmt.Sprint(args...)) }
func Debugf(format string, a ...any) { logger.Debug().Msgf(format, a...) }
func Debugw(msg string, kv ...any)  { withFields(logger.Debug(), kv...).Msg(msg) }

func Info(args ...any)             { logger.Info().Msg(fmt.Sprint(args...)) }
func Infof(format string, a ...any) { logger.Info().Msgf(format, a...) }
func Infow(msg string, kv ...any)  { withFields(logger.Info(), kv...).Msg(msg) }

func Warn(args ...any)             { logger.Warn().Msg(fmt.Sprint(args...)) }
func Warnf(format string, a ...any) { logger.Warn().Msgf(format, a...) }
func Warnw(msg string, kv ...any)  { withFields(logger.Warn(), kv...).Msg(msg) }

func Error(args ...any)             { logger.Error().Msg(fmt.Sprint(args...)) }
func Errorf(format string, a ...any) { logger.Error().Msgf(format, a...) }
func Errorw(err error, msg string)  { logger.Error().Err(err).Msg(msg) }

// Fatalf logs the message and exits with status 1.
func Fatalf(format string, a ...any) {
	logger.Fatal().Msgf(format, a...)
}
