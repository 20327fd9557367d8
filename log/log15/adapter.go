// Package log15 adapts a github.com/inconshreveable/log15.Logger to the
// github.com/ngrok/yamux/log.Logger interface.
//
// Adapted from the github.com/jackc/pgx log15 adapter.
package log15

import (
	"context"

	"github.com/inconshreveable/log15"

	"github.com/ngrok/yamux/log"
)

// Logger wraps a log15.Logger to add the yamux logging interface. It also
// exposes the log15.Logger interface directly so it can be downcast back
// to log15.Logger.
type Logger struct {
	log15.Logger
}

func NewLogger(l log15.Logger) *Logger {
	return &Logger{l}
}

func (l *Logger) Log(ctx context.Context, level log.LogLevel, msg string, data map[string]interface{}) {
	logArgs := make([]interface{}, 0, len(data))
	for k, v := range data {
		logArgs = append(logArgs, k, v)
	}

	switch level {
	case log.LogLevelTrace:
		l.Debug(msg, append(logArgs, "LOG_LEVEL", level)...)
	case log.LogLevelDebug:
		l.Debug(msg, logArgs...)
	case log.LogLevelInfo:
		l.Info(msg, logArgs...)
	case log.LogLevelWarn:
		l.Warn(msg, logArgs...)
	case log.LogLevelError:
		l.Error(msg, logArgs...)
	default:
		l.Error(msg, append(logArgs, "INVALID_LOG_LEVEL", level)...)
	}
}
