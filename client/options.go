package client

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/internal/defaults"
	"github.com/uasalt/elemlink/observability"
)

// Option configures a Session.
//
// Omit an option to use the library default.
type Option func(*options) error

type options struct {
	logger   zerolog.Logger
	observer observability.SessionObserver

	header http.Header
	dialer *websocket.Dialer

	connectTimeout time.Duration
	writeTimeout   time.Duration
	reconnectDelay time.Duration
	requestTimeout time.Duration
	readLimit      int64

	suite          envelope.Suite
	strict         bool
	sessionKeyType string
}

func defaultOptions() options {
	return options{
		logger:         zerolog.Nop(),
		observer:       observability.NoopSessionObserver,
		connectTimeout: defaults.ConnectTimeout,
		writeTimeout:   defaults.WriteTimeout,
		reconnectDelay: defaults.ReconnectDelay,
		requestTimeout: defaults.RequestTimeout,
		readLimit:      defaults.ReadLimit,
		suite:          envelope.SuiteCBC,
		sessionKeyType: handshake.TypeAESKey,
	}
}

func applyOptions(opts []Option) (options, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return options{}, err
		}
	}
	return cfg, nil
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *options) error {
		cfg.logger = l
		return nil
	}
}

// WithObserver receives session metric events.
func WithObserver(obs observability.SessionObserver) Option {
	return func(cfg *options) error {
		if obs == nil {
			obs = observability.NoopSessionObserver
		}
		cfg.observer = obs
		return nil
	}
}

// WithHeader adds extra HTTP headers for the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(cfg *options) error {
		cfg.header = h.Clone()
		return nil
	}
}

// WithDialer sets a custom gorilla/websocket dialer (proxy, TLS, ...).
func WithDialer(d *websocket.Dialer) Option {
	return func(cfg *options) error {
		cfg.dialer = d
		return nil
	}
}

// WithConnectTimeout bounds each WebSocket dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be > 0")
		}
		cfg.connectTimeout = d
		return nil
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d <= 0 {
			return fmt.Errorf("write timeout must be > 0")
		}
		cfg.writeTimeout = d
		return nil
	}
}

// WithReconnectDelay sets the fixed pause before redialing a lost connection.
func WithReconnectDelay(d time.Duration) Option {
	return func(cfg *options) error {
		if d <= 0 {
			return fmt.Errorf("reconnect delay must be > 0")
		}
		cfg.reconnectDelay = d
		return nil
	}
}

// WithRequestTimeout sets how long Send waits for a response; 0 waits until ctx is done.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *options) error {
		if d < 0 {
			return fmt.Errorf("request timeout must be >= 0")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithReadLimit bounds the size of one inbound frame.
func WithReadLimit(n int64) Option {
	return func(cfg *options) error {
		if n <= 0 {
			return fmt.Errorf("read limit must be > 0")
		}
		cfg.readLimit = n
		return nil
	}
}

// WithSuite selects the session cipher. Both ends must agree; the deployed server speaks SuiteCBC.
func WithSuite(s envelope.Suite) Option {
	return func(cfg *options) error {
		if _, err := envelope.CipherForSuite(s); err != nil {
			return err
		}
		cfg.suite = s
		return nil
	}
}

// WithStrictHandshake treats out-of-state frames as a protocol desync that forces a reconnect.
func WithStrictHandshake(strict bool) Option {
	return func(cfg *options) error {
		cfg.strict = strict
		return nil
	}
}

// WithSessionKeyType sets the message type used when sending the local session key.
func WithSessionKeyType(typ string) Option {
	return func(cfg *options) error {
		typ = strings.TrimSpace(typ)
		if typ == "" {
			return fmt.Errorf("session key type must not be empty")
		}
		cfg.sessionKeyType = typ
		return nil
	}
}
