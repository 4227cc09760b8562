package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/internal/cmdutil"
	"github.com/uasalt/elemlink/internal/defaults"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "elemlink.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_OverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
url = " ws://127.0.0.1:9000/ws "
request_timeout = "750ms"
suite = "gcm"
strict_handshake = true
log_level = "debug"

[headers]
Origin = "https://app.test"
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:9000/ws", cfg.URL)
	require.Equal(t, 750*time.Millisecond, cfg.RequestTimeout)
	require.Equal(t, envelope.SuiteGCM, cfg.Suite)
	require.True(t, cfg.Strict)
	require.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	require.Equal(t, "https://app.test", cfg.Header.Get("Origin"))

	// Untouched keys keep their defaults.
	require.Equal(t, defaults.ReconnectDelay, cfg.ReconnectDelay)
	require.Equal(t, defaults.ConnectTimeout, cfg.ConnectTimeout)
	require.Equal(t, "aes_key", cfg.SessionKeyType)
}

func TestLoadConfig_Example(t *testing.T) {
	cfg, err := loadConfig("elemlink.example.toml")
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	require.Equal(t, envelope.SuiteCBC, cfg.Suite)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
}

func TestLoadConfig_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":  `colour = "blue"`,
		"bad duration": `request_timeout = "soon"`,
		"bad suite":    `suite = "rot13"`,
		"bad level":    `log_level = "loud"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, body))
			require.Error(t, err)
			require.True(t, cmdutil.IsUsage(err), "err=%v", err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	require.False(t, cmdutil.IsUsage(err))
}

func TestResolveConfig_Precedence(t *testing.T) {
	path := writeConfig(t, `
url = "ws://from-file/ws"
request_timeout = "3s"
`)
	t.Setenv(envURL, "ws://from-env/ws")
	t.Setenv(envRequestTimeout, "4s")

	a := &app{}
	root := a.command()
	require.NoError(t, root.ParseFlags([]string{"--config", path, "--timeout", "2s"}))

	cfg, err := a.resolveConfig(root)
	require.NoError(t, err)
	require.Equal(t, "ws://from-env/ws", cfg.URL)
	require.Equal(t, 2*time.Second, cfg.RequestTimeout)
	require.Contains(t, cfg.Header.Get("User-Agent"), "elemlink/")
}

func TestResolveConfig_EmptyURLIsUsage(t *testing.T) {
	t.Setenv(envURL, "")
	a := &app{}
	root := a.command()
	require.NoError(t, root.ParseFlags([]string{"--url", " "}))
	_, err := a.resolveConfig(root)
	require.True(t, cmdutil.IsUsage(err), "err=%v", err)
	require.Equal(t, 2, cmdutil.ExitCode(err))
}

func TestParseSuite(t *testing.T) {
	for raw, want := range map[string]envelope.Suite{"": envelope.SuiteCBC, "CBC": envelope.SuiteCBC, "aes-gcm": envelope.SuiteGCM} {
		got, err := parseSuite(raw)
		require.NoError(t, err)
		require.Equal(t, want, got, raw)
	}
}
