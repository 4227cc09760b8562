package client_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/uasalt/elemlink/client"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/elerrors"
	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/internal/rayid"
	"github.com/uasalt/elemlink/internal/testutil/fakepeer"
	"github.com/uasalt/elemlink/observability"
	"github.com/uasalt/elemlink/rpc"
	"github.com/uasalt/elemlink/transport"
)

const waitFor = 5 * time.Second

func newSession(t *testing.T, url string, opts ...client.Option) *client.Session {
	t.Helper()
	base := []client.Option{
		client.WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
		client.WithReconnectDelay(50 * time.Millisecond),
	}
	s, err := client.New(url, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func connect(t *testing.T, s *client.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	require.True(t, s.Ready())
	require.Equal(t, handshake.Ready, s.State())
}

func noReply(map[string]any) (map[string]any, bool) { return nil, false }

type sendResult struct {
	msg client.Message
	err error
}

func sendAsync(ctx context.Context, s *client.Session, msg client.Message) <-chan sendResult {
	ch := make(chan sendResult, 1)
	go func() {
		resp, err := s.Send(ctx, msg)
		ch <- sendResult{resp, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan sendResult) sendResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for Send")
		return sendResult{}
	}
}

func nextRequest(t *testing.T, p *fakepeer.Peer) map[string]any {
	t.Helper()
	select {
	case req := <-p.Requests():
		return req
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for request at peer")
		return nil
	}
}

func TestSendReceivesCorrelatedResponse(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{})
	s := newSession(t, peer.URL)
	connect(t, s)
	require.Equal(t, uint64(1), s.Episode())

	req := client.Message{"type": "ping"}
	resp, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "ping", resp.Type())
	require.Equal(t, client.StatusSuccess, resp.Status())
	require.NoError(t, resp.Err())
	require.NoError(t, rayid.Validate(resp.RayID()))
	_, mutated := req["ray_id"]
	require.False(t, mutated, "caller's message must not be modified")

	got := nextRequest(t, peer)
	require.Equal(t, resp.RayID(), got["ray_id"])
	require.Zero(t, s.Pending())
}

func TestQueuedPingFlushedOnReady(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	peer := fakepeer.New(t, fakepeer.Options{Gate: gate})
	s := newSession(t, peer.URL)

	connected := make(chan error, 1)
	go func() { connected <- s.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == handshake.AwaitingPeerSessionKey }, waitFor, 5*time.Millisecond)

	res := sendAsync(context.Background(), s, client.Message{"type": "ping"})
	require.Eventually(t, func() bool { return s.Queued() == 1 }, waitFor, 5*time.Millisecond)
	require.False(t, s.Ready())
	require.Zero(t, peer.ClientFrames())

	close(gate)
	r := await(t, res)
	require.NoError(t, r.err)
	require.Equal(t, "ping", r.msg.Type())
	require.NoError(t, <-connected)
	require.Equal(t, 1, peer.ClientFrames())
	require.Zero(t, s.Queued())
}

func TestQueuedMessagesFlushInSubmissionOrder(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	peer := fakepeer.New(t, fakepeer.Options{Gate: gate})
	s := newSession(t, peer.URL)
	go func() { _ = s.Connect(context.Background()) }()

	results := make([]<-chan sendResult, 5)
	for i := range results {
		results[i] = sendAsync(context.Background(), s, client.Message{"type": "queued", "n": i})
		want := i + 1
		require.Eventually(t, func() bool { return s.Queued() == want }, waitFor, 2*time.Millisecond)
	}
	close(gate)

	for i := range results {
		req := nextRequest(t, peer)
		require.Equal(t, int64(i), req["n"])
	}
	for _, ch := range results {
		require.NoError(t, await(t, ch).err)
	}
	require.Equal(t, 5, peer.ClientFrames())
}

func TestResponsesResolveOutOfOrder(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{Handler: noReply})
	s := newSession(t, peer.URL)
	connect(t, s)

	results := make(map[int64]<-chan sendResult)
	for i := int64(0); i < 3; i++ {
		results[i] = sendAsync(context.Background(), s, client.Message{"type": "n", "n": i})
	}
	var reqs []map[string]any
	for i := 0; i < 3; i++ {
		reqs = append(reqs, nextRequest(t, peer))
	}
	for i := len(reqs) - 1; i >= 0; i-- {
		require.NoError(t, peer.Push(map[string]any{
			"ray_id": reqs[i]["ray_id"],
			"status": "success",
			"n":      reqs[i]["n"],
		}))
	}
	for n, ch := range results {
		r := await(t, ch)
		require.NoError(t, r.err)
		require.Equal(t, n, r.msg["n"])
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{Handler: noReply})
	s := newSession(t, peer.URL, client.WithRequestTimeout(100*time.Millisecond))
	connect(t, s)

	start := time.Now()
	_, err := s.Send(context.Background(), client.Message{"type": "slow"})
	require.ErrorIs(t, err, rpc.ErrTimeout)
	require.Equal(t, client.CodeTimeout, elerrors.Classify(err))
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	require.Zero(t, s.Pending())

	// A late response is ignored and the session keeps working.
	req := nextRequest(t, peer)
	require.NoError(t, peer.Push(map[string]any{"ray_id": req["ray_id"], "status": "success"}))
	require.True(t, s.Ready())
}

func TestReconnectUsesFreshKeysAndKeepsPending(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{Handler: noReply})
	s := newSession(t, peer.URL, client.WithRequestTimeout(0))
	connect(t, s)

	res := sendAsync(context.Background(), s, client.Message{"type": "long"})
	req := nextRequest(t, peer)

	peer.DropAll()
	require.Eventually(t, func() bool { return s.Ready() && s.Episode() == 2 }, waitFor, 10*time.Millisecond)
	require.Equal(t, 2, peer.Episodes())
	require.Equal(t, 1, s.Pending())

	pubs := peer.ClientPublicKeys()
	require.False(t, pubs[0].Equal(pubs[1]), "key pair must be regenerated")
	keys := peer.ClientSessionKeys()
	require.False(t, bytes.Equal(keys[0], keys[1]), "session key must be regenerated")

	require.NoError(t, peer.Push(map[string]any{"ray_id": req["ray_id"], "status": "success", "type": "long"}))
	r := await(t, res)
	require.NoError(t, r.err)
	require.Equal(t, "long", r.msg.Type())
}

type handshakeRecorder struct {
	observability.SessionObserver
	mu      sync.Mutex
	results []observability.HandshakeResult
	drops   map[observability.DropReason]int
}

func (h *handshakeRecorder) FrameDropped(r observability.DropReason) {
	h.mu.Lock()
	if h.drops == nil {
		h.drops = make(map[observability.DropReason]int)
	}
	h.drops[r]++
	h.mu.Unlock()
}

func (h *handshakeRecorder) dropped(r observability.DropReason) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drops[r]
}

func (h *handshakeRecorder) Handshake(r observability.HandshakeResult, _ time.Duration) {
	h.mu.Lock()
	h.results = append(h.results, r)
	h.mu.Unlock()
}

func (h *handshakeRecorder) seen(r observability.HandshakeResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, got := range h.results {
		if got == r {
			return true
		}
	}
	return false
}

func TestMalformedBootstrapFrameDoesNotStopHandshake(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{GarbageFirst: true})
	obs := &handshakeRecorder{SessionObserver: observability.NoopSessionObserver}
	s := newSession(t, peer.URL, client.WithObserver(obs))
	connect(t, s)

	require.True(t, obs.seen(observability.HandshakeResultCryptoError))
	require.True(t, obs.seen(observability.HandshakeResultOK))
	require.Equal(t, uint64(1), s.Episode())
	require.Nil(t, s.LastError(), "ready clears the recorded handshake failure")

	_, err := s.Send(context.Background(), client.Message{"type": "ping"})
	require.NoError(t, err)
}

type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestApplicationFrameBeforeReadyIsCountedAndDropped(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{StrayFrameFirst: true})
	obs := &handshakeRecorder{SessionObserver: observability.NoopSessionObserver}
	logs := &syncWriter{}
	s := newSession(t, peer.URL, client.WithObserver(obs), client.WithLogger(zerolog.New(logs)))
	connect(t, s)

	require.Equal(t, 1, obs.dropped(observability.DropReasonDesync))
	require.Equal(t, uint64(1), s.Episode())
	require.Contains(t, logs.String(), "dropping frame before ready")

	_, err := s.Send(context.Background(), client.Message{"type": "ping"})
	require.NoError(t, err)
}

func TestDirectionalSessionKeys(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{})
	s := newSession(t, peer.URL)
	connect(t, s)

	clientKey := peer.ClientSessionKeys()[0]
	serverKey := peer.ServerSessionKeys()[0]
	require.Len(t, clientKey, envelope.SessionKeyLen)
	require.False(t, bytes.Equal(clientKey, serverKey))
}

func TestRemoteErrorIsAValue(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{Handler: func(map[string]any) (map[string]any, bool) {
		return map[string]any{"status": "error", "message": "invalid password"}, true
	}})
	s := newSession(t, peer.URL)
	connect(t, s)

	resp, err := s.Send(context.Background(), client.Message{"type": "social/auth/login"})
	require.NoError(t, err)
	var re *client.RemoteError
	require.ErrorAs(t, resp.Err(), &re)
	require.Equal(t, "invalid password", re.Message)
	require.Equal(t, client.CodeRemote, elerrors.Classify(resp.Err()))
}

func TestControlFrameAfterReadyIsDropped(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{})
	s := newSession(t, peer.URL)
	connect(t, s)

	require.NoError(t, peer.PushText(`{"type":"key_exchange","key":"x"}`))
	resp, err := s.Send(context.Background(), client.Message{"type": "ping"})
	require.NoError(t, err)
	require.Equal(t, "ping", resp.Type())
	require.Equal(t, uint64(1), s.Episode())
}

func TestControlFrameAfterReadyStrictReconnects(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{})
	s := newSession(t, peer.URL, client.WithStrictHandshake(true))
	connect(t, s)

	require.NoError(t, peer.PushText(`{"type":"key_exchange","key":"x"}`))
	require.Eventually(t, func() bool { return s.Ready() && s.Episode() == 2 }, waitFor, 10*time.Millisecond)
}

func TestDisconnectClearsStateAndReconnects(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{})
	s := newSession(t, peer.URL)
	connect(t, s)

	s.Disconnect()
	require.False(t, s.Ready())
	require.Equal(t, handshake.Disconnected, s.State())
	require.Zero(t, s.Episode())
	s.Disconnect()

	res := sendAsync(context.Background(), s, client.Message{"type": "after"})
	r := await(t, res)
	require.NoError(t, r.err)
	require.Equal(t, uint64(2), s.Episode())
	require.Equal(t, 2, peer.Episodes())
}

func TestCallerCancelRemovesQueuedMessage(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	peer := fakepeer.New(t, fakepeer.Options{Gate: gate})
	s := newSession(t, peer.URL)
	go func() { _ = s.Connect(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	res := sendAsync(ctx, s, client.Message{"type": "abandoned"})
	require.Eventually(t, func() bool { return s.Queued() == 1 }, waitFor, 5*time.Millisecond)
	cancel()
	r := await(t, res)
	require.ErrorIs(t, r.err, context.Canceled)
	require.Equal(t, client.CodeCanceled, elerrors.Classify(r.err))
	require.Zero(t, s.Queued())
	require.Zero(t, s.Pending())

	close(gate)
	resp, err := s.Send(context.Background(), client.Message{"type": "kept"})
	require.NoError(t, err)
	require.Equal(t, "kept", resp.Type())
	require.Equal(t, 1, peer.ClientFrames())
}

func TestCloseFailsOutstandingRequests(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{Handler: noReply})
	s := newSession(t, peer.URL, client.WithRequestTimeout(0))
	connect(t, s)

	res := sendAsync(context.Background(), s, client.Message{"type": "never"})
	nextRequest(t, peer)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	r := await(t, res)
	require.ErrorIs(t, r.err, client.ErrSessionClosed)
	require.Equal(t, client.CodeClosed, elerrors.Classify(r.err))

	_, err := s.Send(context.Background(), client.Message{"type": "late"})
	require.ErrorIs(t, err, client.ErrSessionClosed)
	require.ErrorIs(t, s.Connect(context.Background()), client.ErrSessionClosed)
	require.False(t, s.Ready())
}

func TestGCMSuite(t *testing.T) {
	t.Parallel()
	peer := fakepeer.New(t, fakepeer.Options{Suite: envelope.SuiteGCM, SessionKeyType: handshake.TypeSessionKey})
	s := newSession(t, peer.URL, client.WithSuite(envelope.SuiteGCM), client.WithSessionKeyType(handshake.TypeSessionKey))
	connect(t, s)

	resp, err := s.Send(context.Background(), client.Message{"type": "ping", "blob": []byte{0, 1, 2}})
	require.NoError(t, err)
	require.Equal(t, "ping", resp.Type())
	require.Equal(t, []byte{0, 1, 2}, nextRequest(t, peer)["blob"])
}

func TestConnectHonorsContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := newSession(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, transport.ErrDial)
	require.Equal(t, client.CodeDialFailed, elerrors.Classify(err))
	require.False(t, s.Ready())

	last := s.LastError()
	require.NotNil(t, last)
	require.Equal(t, client.StageConnect, last.Stage)
	require.Equal(t, client.CodeDialFailed, last.Code)
}

func TestSendValidates(t *testing.T) {
	t.Parallel()
	s := newSession(t, "ws://127.0.0.1:1")
	_, err := s.Send(context.Background(), nil)
	require.ErrorIs(t, err, client.ErrNilMessage)
	require.Equal(t, client.CodeInvalidInput, elerrors.Classify(err))

	_, err = s.Send(context.Background(), client.Message{"type": "bad", "fn": func() {}})
	require.Equal(t, client.CodeEncodeFailed, elerrors.Classify(err))
	require.Zero(t, s.Pending())
}

func TestNewValidates(t *testing.T) {
	_, err := client.New("  ")
	require.ErrorIs(t, err, client.ErrMissingURL)

	_, err = client.New("ws://x", client.WithReconnectDelay(0))
	require.Error(t, err)
	var e *client.Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, client.StageValidate, e.Stage)

	_, err = client.New("ws://x", client.WithSuite(envelope.Suite(7)))
	require.ErrorIs(t, err, envelope.ErrUnsupportedSuite)

	_, err = client.New("ws://x", client.WithSessionKeyType(" "))
	require.Error(t, err)
}
