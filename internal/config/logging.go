package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below debug. Full model requests and replies are
// logged at this level.
const LevelTrace = slog.Level(-8)

// logLevels maps log_level values to slog levels. The empty string is
// the default.
var logLevels = map[string]slog.Level{
	"":        slog.LevelInfo,
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLogLevel resolves a log_level setting, ignoring case and
// surrounding blanks. Unknown names yield info and an error.
func ParseLogLevel(s string) (slog.Level, error) {
	if level, ok := logLevels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return level, nil
	}
	return slog.LevelInfo, fmt.Errorf("log level %q: want trace, debug, info, warn or error", s)
}

// ReplaceLogLevelNames is a ReplaceAttr hook that prints LevelTrace as
// TRACE; slog would otherwise render it as DEBUG-4.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}
