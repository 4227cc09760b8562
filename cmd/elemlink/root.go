package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/uasalt/elemlink/client"
	"github.com/uasalt/elemlink/internal/cmdutil"
	"github.com/uasalt/elemlink/internal/contextutil"
	"github.com/uasalt/elemlink/internal/logging"
	buildversion "github.com/uasalt/elemlink/internal/version"
	"github.com/uasalt/elemlink/observability"
)

const appName = "elemlink"

type rootFlags struct {
	configPath     string
	url            string
	logLevel       string
	metricsListen  string
	requestTimeout time.Duration
	wait           time.Duration
	strict         bool
	suite          string
}

type app struct {
	flags  rootFlags
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func buildInfo() buildversion.Info {
	return buildversion.Info{Version: version, Commit: commit, Date: date}
}

func newRootCmd(stdin io.Reader, stdout io.Writer, stderr io.Writer) *cobra.Command {
	return (&app{stdin: stdin, stdout: stdout, stderr: stderr}).command()
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Encrypted request/response client for the element WebSocket API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "TOML config file")
	pf.StringVar(&a.flags.url, "url", "", "WebSocket endpoint (env: "+envURL+")")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error, off (env: "+logging.EnvLogLevel+")")
	pf.StringVar(&a.flags.metricsListen, "metrics-listen", "", "listen address for Prometheus metrics (empty disables) (env: "+envMetricsListen+")")
	pf.DurationVar(&a.flags.requestTimeout, "timeout", 0, "per-request timeout (default from config, 5s)")
	pf.DurationVar(&a.flags.wait, "wait", 15*time.Second, "how long to wait for the session to become ready")
	pf.BoolVar(&a.flags.strict, "strict", false, "treat unexpected bootstrap frames as a protocol desync")
	pf.StringVar(&a.flags.suite, "suite", "", "session cipher: cbc or gcm")

	root.AddCommand(callCmd(a), pingCmd(a), versionCmd(a))
	return root
}

func (a *app) resolveConfig(cmd *cobra.Command) (config, error) {
	cfg := defaultConfig()
	if a.flags.configPath != "" {
		loaded, err := loadConfig(a.flags.configPath)
		if err != nil {
			return config{}, err
		}
		cfg = loaded
	}
	if err := cfg.applyEnv(); err != nil {
		return config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = strings.TrimSpace(a.flags.url)
	}
	if flags.Changed("metrics-listen") {
		cfg.MetricsListen = strings.TrimSpace(a.flags.metricsListen)
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = a.flags.requestTimeout
	}
	if flags.Changed("strict") {
		cfg.Strict = a.flags.strict
	}
	if flags.Changed("suite") {
		s, err := parseSuite(a.flags.suite)
		if err != nil {
			return config{}, err
		}
		cfg.Suite = s
	}
	if flags.Changed("log-level") {
		lvl, ok := logging.ParseLevel(a.flags.logLevel)
		if !ok {
			return config{}, cmdutil.Usagef("--log-level: unknown level %q", a.flags.logLevel)
		}
		cfg.LogLevel = lvl
	}
	if cfg.Header.Get("User-Agent") == "" {
		cfg.Header.Set("User-Agent", buildInfo().UserAgent(appName))
	}
	return cfg, cfg.validate()
}

// session bundles a connected client with the logger and metrics server around it.
type session struct {
	*client.Session
	log     zerolog.Logger
	metrics *metricsServer
}

func (s *session) Close() {
	_ = s.Session.Close()
	if s.metrics != nil {
		s.metrics.Close()
	}
}

func (a *app) open(cmd *cobra.Command) (*session, error) {
	cfg, err := a.resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	log := logging.New(a.stderr, appName, logCfg)

	obs := observability.NewAtomicSessionObserver()
	out := &session{log: log}
	if cfg.MetricsListen != "" {
		m, err := startMetrics(cfg.MetricsListen, obs, log)
		if err != nil {
			return nil, err
		}
		out.metrics = m
	}

	opts := append(cfg.clientOptions(log), client.WithObserver(obs))
	sess, err := client.New(cfg.URL, opts...)
	if err != nil {
		if out.metrics != nil {
			out.metrics.Close()
		}
		return nil, err
	}
	out.Session = sess

	ctx, cancel := contextutil.WithTimeout(commandContext(cmd), a.flags.wait)
	defer cancel()
	if err := sess.Connect(ctx); err != nil {
		out.Close()
		return nil, err
	}
	log.Debug().Str("url", cfg.URL).Uint64("episode", sess.Episode()).Msg("session ready")
	return out, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
