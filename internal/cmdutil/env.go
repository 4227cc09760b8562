package cmdutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key, or fallback when it is unset or blank.
func EnvString(key string, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// EnvBool parses key as a boolean.
func EnvBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseBool(raw)
}

// EnvDuration parses key as a time.Duration.
func EnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &UsageError{Msg: key + ": " + err.Error()}
	}
	return d, nil
}
