// Package client is the caller-facing API of the secure session.
//
// A Session keeps one WebSocket to the server. Each connection runs an RSA-OAEP
// bootstrap that establishes one AES session key per direction, after which
// requests and responses travel as encrypted msgpack maps correlated by
// ray_id. Requests sent before the session is Ready are queued and flushed in
// submission order once it is. Lost connections are redialed after a fixed
// delay with brand-new keys; outstanding requests survive the reconnect.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/uasalt/elemlink/codec"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/elerrors"
	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/observability"
	"github.com/uasalt/elemlink/outbox"
	"github.com/uasalt/elemlink/realtime/ws"
	"github.com/uasalt/elemlink/rpc"
	"github.com/uasalt/elemlink/transport"
)

// Session is safe for concurrent use.
type Session struct {
	url    string
	cfg    options
	log    zerolog.Logger
	obs    observability.SessionObserver
	cipher envelope.SessionCipher

	registry *rpc.Registry
	queue    *outbox.Queue
	tr       *transport.Transport

	// mu orders direct sends against the Ready flush and guards episode state.
	mu         sync.Mutex
	ep         *episode
	readyCh    chan struct{}
	readyShut  bool
	closed     bool
	lastFail   *elerrors.Error
	runStarted bool

	runCancel context.CancelFunc
	runDone   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New returns an idle Session for url. Nothing is dialed until Connect.
func New(url string, opts ...Option) (*Session, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, elerrors.Wrap(elerrors.StageValidate, elerrors.CodeInvalidInput, ErrMissingURL)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, elerrors.Wrap(elerrors.StageValidate, elerrors.CodeInvalidInput, err)
	}
	c, err := envelope.CipherForSuite(cfg.suite)
	if err != nil {
		return nil, elerrors.Wrap(elerrors.StageValidate, elerrors.CodeInvalidInput, err)
	}
	s := &Session{
		url:      url,
		cfg:      cfg,
		log:      cfg.logger.With().Str("component", "session").Logger(),
		obs:      cfg.observer,
		cipher:   c,
		registry: rpc.New(rpc.WithTimeout(cfg.requestTimeout)),
		queue:    outbox.New(),
		readyCh:  make(chan struct{}),
		runDone:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.tr, err = transport.New(transport.Options{
		URL:            url,
		Header:         cfg.header,
		Dialer:         cfg.dialer,
		ConnectTimeout: cfg.connectTimeout,
		WriteTimeout:   cfg.writeTimeout,
		ReconnectDelay: cfg.reconnectDelay,
		ReadLimit:      cfg.readLimit,
		Logger:         cfg.logger,
		Observer:       cfg.observer,
		OnDialError: func(err error) {
			s.noteFailure(elerrors.StageConnect, elerrors.CodeDialFailed, err)
		},
	}, linkHandler{s})
	if err != nil {
		return nil, elerrors.Wrap(elerrors.StageValidate, elerrors.CodeInvalidInput, err)
	}
	return s, nil
}

// URL returns the endpoint the session dials.
func (s *Session) URL() string { return s.url }

// Connect starts the connection loop if needed and waits until the session is Ready.
// The loop keeps running after ctx is done; only Close stops it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return elerrors.Wrap(elerrors.StageConnect, elerrors.CodeClosed, ErrSessionClosed)
	}
	if !s.runStarted {
		s.runStarted = true
		runCtx, cancel := context.WithCancel(context.Background())
		s.runCancel = cancel
		go func() {
			defer close(s.runDone)
			_ = s.tr.Run(runCtx)
		}()
	}
	s.mu.Unlock()
	return s.waitReady(ctx)
}

func (s *Session) waitReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.ep != nil && s.ep.ready {
			s.mu.Unlock()
			return nil
		}
		ch := s.readyCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-s.done:
			return elerrors.Wrap(elerrors.StageConnect, elerrors.CodeClosed, ErrSessionClosed)
		case <-ctx.Done():
			// Report why the session never became Ready when we know.
			if last := s.LastError(); last != nil {
				return &elerrors.Error{Stage: last.Stage, Code: last.Code, Err: errors.Join(ctx.Err(), last.Err)}
			}
			return elerrors.Wrap(elerrors.StageConnect, ctxCode(ctx.Err()), ctx.Err())
		}
	}
}

// Send submits msg and waits for the response carrying the same ray_id.
//
// The caller's map is copied before ray_id is injected. Responses with
// status "error" are returned as values; see Message.Err. Requests sent
// before Connect stay queued until the first connection becomes Ready.
func (s *Session) Send(ctx context.Context, msg Message) (Message, error) {
	if msg == nil {
		return nil, elerrors.Wrap(elerrors.StageValidate, elerrors.CodeInvalidInput, ErrNilMessage)
	}
	start := time.Now()
	p, err := s.registry.Register()
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			s.obs.Request(observability.RequestResultClosed, 0)
			return nil, elerrors.Wrap(elerrors.StageRPC, elerrors.CodeClosed, err)
		}
		return nil, elerrors.Wrap(elerrors.StageRPC, elerrors.CodeInvalidInput, err)
	}
	payload := msg.clone()
	payload[FieldRayID] = p.ID()
	body, err := codec.Encode(map[string]any(payload))
	if err != nil {
		s.registry.Cancel(p.ID(), err)
		s.obs.Request(observability.RequestResultEncodeError, time.Since(start))
		return nil, elerrors.Wrap(elerrors.StageRPC, elerrors.CodeEncodeFailed, err)
	}

	s.submit(ctx, outbox.Item{ID: p.ID(), Body: body, QueuedAt: start})
	s.obs.Pending(s.registry.Len())

	resp, err := p.Wait(ctx)
	if err != nil {
		s.queue.Remove(p.ID())
		s.obs.QueueDepth(s.queue.Len())
		s.obs.Pending(s.registry.Len())
		stage, code, result := requestFailure(err)
		s.obs.Request(result, time.Since(start))
		s.log.Debug().Str("ray_id", p.ID()).Err(err).Msg("request failed")
		return nil, elerrors.Wrap(stage, code, err)
	}
	out := Message(resp)
	result := observability.RequestResultOK
	if out.Err() != nil {
		result = observability.RequestResultRemoteError
	}
	s.obs.Request(result, time.Since(start))
	s.obs.Pending(s.registry.Len())
	return out, nil
}

// submit either writes the item on a Ready episode or queues it.
// An item is queued after a failed write only when nothing reached the socket;
// any other write failure fails the request so it is never sent twice.
func (s *Session) submit(ctx context.Context, item outbox.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep := s.ep; ep != nil && ep.ready {
		err := s.writeLocked(ctx, ep, item.Body)
		if err == nil {
			return
		}
		if !errors.Is(err, transport.ErrNotConnected) {
			s.log.Warn().Err(err).Str("ray_id", item.ID).Uint64("episode", ep.link.Episode()).Msg("write failed")
			s.registry.Cancel(item.ID, err)
			return
		}
		s.log.Debug().Str("ray_id", item.ID).Uint64("episode", ep.link.Episode()).Msg("link closed, queueing")
		item.Attempts++
	}
	if err := s.queue.Enqueue(item); err != nil {
		s.log.Error().Err(err).Str("ray_id", item.ID).Msg("enqueue failed")
	}
	s.obs.QueueDepth(s.queue.Len())
}

// writeLocked seals body with the peer's session key and writes it. Caller holds s.mu.
func (s *Session) writeLocked(ctx context.Context, ep *episode, body []byte) error {
	key, ok := ep.keys.PeerSessionKey()
	if !ok {
		return transport.ErrNotConnected
	}
	env, err := s.cipher.Seal(key, body)
	if err != nil {
		return err
	}
	// A write interrupted by the caller would leave a torn frame on the socket.
	return ep.link.Send(context.WithoutCancel(ctx), ws.Binary(env))
}

// flushLocked sends every queued item in order. Items whose caller gave up are skipped.
// On the first failed write the rest goes back to the front of the queue; the
// failed item is requeued only if it never reached the socket.
func (s *Session) flushLocked(ctx context.Context, ep *episode) int {
	items := s.queue.Drain()
	sent := 0
	for i, it := range items {
		if !s.registry.Outstanding(it.ID) {
			continue
		}
		err := s.writeLocked(ctx, ep, it.Body)
		if err == nil {
			sent++
			continue
		}
		s.log.Warn().Err(err).Int("remaining", len(items)-i).Msg("flush interrupted")
		rest := items[i:]
		if !errors.Is(err, transport.ErrNotConnected) {
			s.registry.Cancel(it.ID, err)
			rest = items[i+1:]
		}
		s.queue.Requeue(rest)
		break
	}
	s.obs.QueueDepth(s.queue.Len())
	return sent
}

// Disconnect closes the current socket and drops its keys. The connection loop
// redials after the reconnect delay. It is a no-op between connections.
func (s *Session) Disconnect() {
	s.mu.Lock()
	ep := s.ep
	if ep != nil {
		s.endEpisodeLocked(ep)
	}
	s.mu.Unlock()
	if ep != nil {
		s.tr.Drop()
		s.log.Info().Uint64("episode", ep.link.Episode()).Msg("disconnected")
	}
}

// Close stops the connection loop and fails outstanding requests with ErrSessionClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		started := s.runStarted
		cancel := s.runCancel
		s.mu.Unlock()

		close(s.done)
		s.registry.Close(ErrSessionClosed)
		if started {
			cancel()
			<-s.runDone
		}
		s.queue.Drain()
		s.obs.QueueDepth(0)
		s.obs.Pending(0)
		s.log.Debug().Msg("session closed")
	})
	return nil
}

// State reports the handshake state of the current connection.
func (s *Session) State() handshake.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep == nil {
		return handshake.Disconnected
	}
	return s.ep.hs.State()
}

// Ready reports whether application frames can be sent right now.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep != nil && s.ep.ready
}

// Episode is the number of the current connection, counting dials from 1. It is 0 between connections.
func (s *Session) Episode() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ep == nil {
		return 0
	}
	return s.ep.link.Episode()
}

// Pending is the number of requests awaiting a response.
func (s *Session) Pending() int { return s.registry.Len() }

// Queued is the number of requests waiting for the session to become Ready.
func (s *Session) Queued() int { return s.queue.Len() }

func (s *Session) endEpisodeLocked(ep *episode) {
	if s.ep != ep {
		return
	}
	ep.end()
	s.ep = nil
	if s.readyShut {
		s.readyCh = make(chan struct{})
		s.readyShut = false
	}
	s.obs.Ready(false)
}

func (s *Session) becomeReady(ctx context.Context, ep *episode) {
	s.mu.Lock()
	if s.ep != ep {
		s.mu.Unlock()
		return
	}
	ep.ready = true
	s.lastFail = nil
	flushed := s.flushLocked(ctx, ep)
	if !s.readyShut {
		close(s.readyCh)
		s.readyShut = true
	}
	s.mu.Unlock()

	s.obs.Ready(true)
	s.obs.Handshake(observability.HandshakeResultOK, time.Since(ep.startedAt))
	s.log.Info().Uint64("episode", ep.link.Episode()).Int("flushed", flushed).Msg("session ready")
}

func requestFailure(err error) (elerrors.Stage, elerrors.Code, observability.RequestResult) {
	switch {
	case errors.Is(err, rpc.ErrTimeout):
		return elerrors.StageRPC, elerrors.CodeTimeout, observability.RequestResultTimeout
	case errors.Is(err, ErrSessionClosed):
		return elerrors.StageRPC, elerrors.CodeClosed, observability.RequestResultClosed
	case errors.Is(err, context.Canceled):
		return elerrors.StageRPC, elerrors.CodeCanceled, observability.RequestResultCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return elerrors.StageRPC, elerrors.CodeTimeout, observability.RequestResultTimeout
	case envelope.IsCryptoError(err):
		return elerrors.StageSecure, elerrors.CodeCrypto, observability.RequestResultTransportError
	default:
		return elerrors.StageSecure, elerrors.CodeTransport, observability.RequestResultTransportError
	}
}

// LastError is the most recent dial, handshake, or secure-channel failure since
// the session was last Ready. It is nil while nothing has failed.
func (s *Session) LastError() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFail
}

func (s *Session) noteFailure(stage elerrors.Stage, code elerrors.Code, err error) {
	s.mu.Lock()
	s.lastFail = &elerrors.Error{Stage: stage, Code: code, Err: err}
	s.mu.Unlock()
}

func ctxCode(err error) elerrors.Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return elerrors.CodeTimeout
	}
	return elerrors.CodeCanceled
}

func (s *Session) String() string {
	return fmt.Sprintf("session(%s, %s)", s.url, s.State())
}
