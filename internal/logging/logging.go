// Package logging builds the zerolog logger used by the command line tools.
package logging

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/uasalt/elemlink/internal/cmdutil"
)

const (
	EnvLogLevel   = "ELEMLINK_LOG_LEVEL"
	EnvLogNoColor = "ELEMLINK_LOG_NOCOLOR"
	EnvLogJSON    = "ELEMLINK_LOG_JSON"
)

// Config controls logger construction. Env overrides are applied by New.
type Config struct {
	Level   zerolog.Level
	NoColor bool
	JSON    bool
}

// DefaultConfig logs at info level to a colored console writer.
func DefaultConfig() Config {
	return Config{Level: zerolog.InfoLevel}
}

// New returns a logger writing to out, tagged with app.
func New(out io.Writer, app string, cfg Config) zerolog.Logger {
	applyEnvOverrides(&cfg)
	w := out
	if !cfg.JSON {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}
	return zerolog.New(w).Level(cfg.Level).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel accepts zerolog level names plus "warning" and "off".
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "warning":
		return zerolog.WarnLevel, true
	case "off", "none", "silent":
		return zerolog.Disabled, true
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(cmdutil.EnvString(EnvLogLevel, "")); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(cmdutil.EnvString(EnvLogNoColor, "")); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(cmdutil.EnvString(EnvLogJSON, "")); ok {
		cfg.JSON = v
	}
}

func parseBool(raw string) (bool, bool) {
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
