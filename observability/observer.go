package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

type DialResult string

const (
	DialResultOK   DialResult = "ok"
	DialResultFail DialResult = "fail"
)

type HandshakeResult string

const (
	HandshakeResultOK          HandshakeResult = "ok"
	HandshakeResultCryptoError HandshakeResult = "crypto_error"
	HandshakeResultDesync      HandshakeResult = "protocol_desync"
	HandshakeResultAborted     HandshakeResult = "aborted"
)

type RequestResult string

const (
	RequestResultOK             RequestResult = "ok"
	RequestResultRemoteError    RequestResult = "remote_error"
	RequestResultTimeout        RequestResult = "timeout"
	RequestResultCanceled       RequestResult = "canceled"
	RequestResultClosed         RequestResult = "closed"
	RequestResultEncodeError    RequestResult = "encode_error"
	RequestResultTransportError RequestResult = "transport_error"
)

type DropReason string

const (
	DropReasonDecryptFailed DropReason = "decrypt_failed"
	DropReasonDecodeFailed  DropReason = "decode_failed"
	DropReasonMissingRayID  DropReason = "missing_ray_id"
	DropReasonUnknownRayID  DropReason = "unknown_ray_id"
	DropReasonDesync        DropReason = "protocol_desync"
)

// SessionObserver receives session-level metric events.
type SessionObserver interface {
	Dial(result DialResult)
	Handshake(result HandshakeResult, d time.Duration)
	Reconnect()
	Ready(ready bool)
	Request(result RequestResult, d time.Duration)
	QueueDepth(n int)
	Pending(n int)
	FrameDropped(reason DropReason)
}

type noopSessionObserver struct{}

func (noopSessionObserver) Dial(DialResult)                          {}
func (noopSessionObserver) Handshake(HandshakeResult, time.Duration) {}
func (noopSessionObserver) Reconnect()                               {}
func (noopSessionObserver) Ready(bool)                               {}
func (noopSessionObserver) Request(RequestResult, time.Duration)     {}
func (noopSessionObserver) QueueDepth(int)                           {}
func (noopSessionObserver) Pending(int)                              {}
func (noopSessionObserver) FrameDropped(DropReason)                  {}

// NoopSessionObserver is used when metrics are disabled.
var NoopSessionObserver SessionObserver = noopSessionObserver{}

// AtomicSessionObserver swaps its delegate at runtime.
type AtomicSessionObserver struct {
	once sync.Once
	v    atomic.Value
}

type sessionObserverHolder struct {
	obs SessionObserver
}

// NewAtomicSessionObserver returns an atomic observer delegating to the no-op observer.
func NewAtomicSessionObserver() *AtomicSessionObserver {
	a := &AtomicSessionObserver{}
	a.init()
	return a
}

// Set replaces the delegate. nil restores the no-op observer.
func (a *AtomicSessionObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopSessionObserver
	}
	a.init()
	a.v.Store(&sessionObserverHolder{obs: obs})
}

func (a *AtomicSessionObserver) init() {
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
}

func (a *AtomicSessionObserver) load() SessionObserver {
	a.init()
	return a.v.Load().(*sessionObserverHolder).obs
}

func (a *AtomicSessionObserver) Dial(result DialResult) { a.load().Dial(result) }
func (a *AtomicSessionObserver) Handshake(result HandshakeResult, d time.Duration) {
	a.load().Handshake(result, d)
}
func (a *AtomicSessionObserver) Reconnect()       { a.load().Reconnect() }
func (a *AtomicSessionObserver) Ready(ready bool) { a.load().Ready(ready) }
func (a *AtomicSessionObserver) Request(result RequestResult, d time.Duration) {
	a.load().Request(result, d)
}
func (a *AtomicSessionObserver) QueueDepth(n int)               { a.load().QueueDepth(n) }
func (a *AtomicSessionObserver) Pending(n int)                  { a.load().Pending(n) }
func (a *AtomicSessionObserver) FrameDropped(reason DropReason) { a.load().FrameDropped(reason) }
