package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/uasalt/elemlink/client"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/internal/cmdutil"
	"github.com/uasalt/elemlink/internal/defaults"
	"github.com/uasalt/elemlink/internal/logging"
)

const (
	envURL            = "ELEMLINK_URL"
	envRequestTimeout = "ELEMLINK_REQUEST_TIMEOUT"
	envMetricsListen  = "ELEMLINK_METRICS_LISTEN"
)

// config is the resolved CLI configuration: defaults, then file, then env, then flags.
type config struct {
	URL            string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	Suite          envelope.Suite
	Strict         bool
	SessionKeyType string
	Header         http.Header
	LogLevel       zerolog.Level
	MetricsListen  string
}

type fileConfig struct {
	URL            string            `toml:"url"`
	ConnectTimeout string            `toml:"connect_timeout"`
	RequestTimeout string            `toml:"request_timeout"`
	ReconnectDelay string            `toml:"reconnect_delay"`
	Suite          string            `toml:"suite"`
	Strict         bool              `toml:"strict_handshake"`
	SessionKeyType string            `toml:"session_key_type"`
	Headers        map[string]string `toml:"headers"`
	LogLevel       string            `toml:"log_level"`
	MetricsListen  string            `toml:"metrics_listen"`
}

func defaultConfig() config {
	return config{
		URL:            defaults.URL,
		ConnectTimeout: defaults.ConnectTimeout,
		RequestTimeout: defaults.RequestTimeout,
		ReconnectDelay: defaults.ReconnectDelay,
		Suite:          envelope.SuiteCBC,
		SessionKeyType: handshake.TypeAESKey,
		Header:         http.Header{},
		LogLevel:       zerolog.InfoLevel,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, cmdutil.Usagef("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("url") {
		cfg.URL = strings.TrimSpace(raw.URL)
	}
	if meta.IsDefined("connect_timeout") {
		if cfg.ConnectTimeout, err = parseDuration("connect_timeout", raw.ConnectTimeout); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("request_timeout") {
		if cfg.RequestTimeout, err = parseDuration("request_timeout", raw.RequestTimeout); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("reconnect_delay") {
		if cfg.ReconnectDelay, err = parseDuration("reconnect_delay", raw.ReconnectDelay); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("suite") {
		if cfg.Suite, err = parseSuite(raw.Suite); err != nil {
			return config{}, err
		}
	}
	if meta.IsDefined("strict_handshake") {
		cfg.Strict = raw.Strict
	}
	if meta.IsDefined("session_key_type") {
		cfg.SessionKeyType = strings.TrimSpace(raw.SessionKeyType)
	}
	if meta.IsDefined("headers") {
		for k, v := range raw.Headers {
			cfg.Header.Set(k, v)
		}
	}
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return config{}, cmdutil.Usagef("log_level: unknown level %q", raw.LogLevel)
		}
		cfg.LogLevel = lvl
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	return cfg, nil
}

func (c *config) applyEnv() error {
	c.URL = cmdutil.EnvString(envURL, c.URL)
	c.MetricsListen = cmdutil.EnvString(envMetricsListen, c.MetricsListen)
	d, err := cmdutil.EnvDuration(envRequestTimeout, c.RequestTimeout)
	if err != nil {
		return err
	}
	c.RequestTimeout = d
	return nil
}

func (c config) validate() error {
	if c.URL == "" {
		return cmdutil.Usagef("missing url (use --url, %s, or the config file)", envURL)
	}
	if c.ConnectTimeout <= 0 || c.ReconnectDelay <= 0 {
		return cmdutil.Usagef("connect_timeout and reconnect_delay must be > 0")
	}
	if c.RequestTimeout < 0 {
		return cmdutil.Usagef("request_timeout must be >= 0")
	}
	return nil
}

func (c config) clientOptions(log zerolog.Logger) []client.Option {
	return []client.Option{
		client.WithLogger(log),
		client.WithHeader(c.Header),
		client.WithConnectTimeout(c.ConnectTimeout),
		client.WithRequestTimeout(c.RequestTimeout),
		client.WithReconnectDelay(c.ReconnectDelay),
		client.WithSuite(c.Suite),
		client.WithStrictHandshake(c.Strict),
		client.WithSessionKeyType(c.SessionKeyType),
	}
}

func parseDuration(key string, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, cmdutil.Usagef("parse %s: %v", key, err)
	}
	return d, nil
}

func parseSuite(raw string) (envelope.Suite, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "cbc", "aes-cbc":
		return envelope.SuiteCBC, nil
	case "gcm", "aes-gcm":
		return envelope.SuiteGCM, nil
	default:
		return 0, cmdutil.Usagef("unknown suite %q (want cbc or gcm)", raw)
	}
}
