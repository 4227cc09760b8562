// Package transport owns the single WebSocket to the server and the fixed-delay reconnect loop.
//
// Every dial starts a new Link. Frames read from a Link are handed to the
// Handler one at a time, in arrival order. When the socket fails or is dropped
// the Handler is told, the loop waits ReconnectDelay, and dials again. There is
// no retry limit and no backoff growth.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/uasalt/elemlink/internal/contextutil"
	"github.com/uasalt/elemlink/internal/defaults"
	"github.com/uasalt/elemlink/observability"
	"github.com/uasalt/elemlink/realtime/ws"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrMissingURL   = errors.New("transport: missing url")
	ErrDial         = errors.New("transport: dial failed")
	ErrDropped      = errors.New("transport: connection dropped")
	ErrRunning      = errors.New("transport: already running")
)

// Handler reacts to link lifecycle events. Calls for one Link never overlap.
type Handler interface {
	// OnOpen runs once per Link before any frame is read. An error closes the Link.
	OnOpen(ctx context.Context, l *Link) error
	// OnFrame runs for each inbound frame. An error closes the Link.
	OnFrame(ctx context.Context, l *Link, f ws.Frame) error
	// OnClose runs after the Link's socket is closed.
	OnClose(l *Link, err error)
}

// Options configures a Transport. Zero durations fall back to internal defaults.
type Options struct {
	URL            string
	Header         http.Header
	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReconnectDelay time.Duration
	ReadLimit      int64
	Logger         zerolog.Logger
	Observer       observability.SessionObserver
	// OnDialError, if set, is called with every failed dial before the reconnect delay.
	OnDialError func(error)
}

// Transport is safe for concurrent use. Run must be called at most once at a time.
type Transport struct {
	opts    Options
	handler Handler
	log     zerolog.Logger

	running  atomic.Bool
	episodes atomic.Uint64

	mu   sync.Mutex
	link *Link
}

// New validates opts and returns an idle Transport.
func New(opts Options, h Handler) (*Transport, error) {
	if opts.URL == "" {
		return nil, ErrMissingURL
	}
	if h == nil {
		return nil, errors.New("transport: nil handler")
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = defaults.ReconnectDelay
	}
	if opts.ReadLimit == 0 {
		opts.ReadLimit = defaults.ReadLimit
	}
	if opts.Observer == nil {
		opts.Observer = observability.NoopSessionObserver
	}
	return &Transport{
		opts:    opts,
		handler: h,
		log:     opts.Logger.With().Str("component", "transport").Logger(),
	}, nil
}

// Run dials, serves, and redials until ctx is done. It returns ctx's error.
func (t *Transport) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer t.running.Store(false)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t.log.Debug().Dur("delay", t.opts.ReconnectDelay).Msg("reconnecting")
			if !contextutil.Sleep(ctx, t.opts.ReconnectDelay) {
				return ctx.Err()
			}
			t.opts.Observer.Reconnect()
		}
		err := t.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Warn().Err(err).Msg("connection lost")
	}
}

// Current returns the open Link, or nil between episodes.
func (t *Transport) Current() *Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.link
}

// Drop closes the current Link, which sends Run down the reconnect path.
func (t *Transport) Drop() {
	if l := t.Current(); l != nil {
		l.Drop()
	}
}

func (t *Transport) serve(ctx context.Context) error {
	n := t.episodes.Add(1)
	log := t.log.With().Uint64("episode", n).Logger()

	dialCtx, cancel := contextutil.WithTimeout(ctx, t.opts.ConnectTimeout)
	conn, resp, err := ws.Dial(dialCtx, t.opts.URL, ws.DialOptions{Header: t.opts.Header, Dialer: t.opts.Dialer})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.opts.Observer.Dial(observability.DialResultFail)
		log.Debug().Err(err).Str("url", t.opts.URL).Msg("dial failed")
		err = fmt.Errorf("%w: %w", ErrDial, err)
		if t.opts.OnDialError != nil {
			t.opts.OnDialError(err)
		}
		return err
	}
	t.opts.Observer.Dial(observability.DialResultOK)
	conn.SetReadLimit(t.opts.ReadLimit)

	l := &Link{conn: conn, episode: n, writeTimeout: t.opts.WriteTimeout, openedAt: time.Now()}
	t.mu.Lock()
	t.link = l
	t.mu.Unlock()
	log.Debug().Msg("connected")

	err = t.pump(ctx, l)

	t.mu.Lock()
	if t.link == l {
		t.link = nil
	}
	t.mu.Unlock()
	l.Close()
	if l.dropped.Load() && !errors.Is(err, ErrDropped) {
		err = fmt.Errorf("%w: %w", ErrDropped, err)
	}
	t.handler.OnClose(l, err)
	return err
}

func (t *Transport) pump(ctx context.Context, l *Link) error {
	if err := t.handler.OnOpen(ctx, l); err != nil {
		return err
	}
	for {
		f, err := l.conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if err := t.handler.OnFrame(ctx, l, f); err != nil {
			return err
		}
	}
}

// Link is one open socket, i.e. one connection episode.
type Link struct {
	conn         *ws.Conn
	episode      uint64
	writeTimeout time.Duration
	openedAt     time.Time

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Bool // closed by Drop rather than by a socket error
}

// Episode numbers links from 1 in dial order.
func (l *Link) Episode() uint64 { return l.episode }

// OpenedAt is when the dial completed.
func (l *Link) OpenedAt() time.Time { return l.openedAt }

// Send writes f, bounded by the write timeout.
func (l *Link) Send(ctx context.Context, f ws.Frame) error {
	if l.closed.Load() {
		return ErrNotConnected
	}
	wctx, cancel := contextutil.WithTimeout(ctx, l.writeTimeout)
	defer cancel()
	return l.conn.WriteFrame(wctx, f)
}

// Drop closes the socket and marks the episode as ended on purpose.
func (l *Link) Drop() {
	l.dropped.Store(true)
	l.Close()
}

// Close closes the socket. It is idempotent.
func (l *Link) Close() {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		_ = l.conn.Close()
	})
}
