package log

import "context"

type nopLogger struct{}

func (nopLogger) Log(context.Context, LogLevel, string, map[string]interface{}) {}

// NopLogger discards everything logged to it. It is the default when a
// Config carries no Logger.
var NopLogger Logger = nopLogger{}
