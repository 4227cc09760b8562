// Package handshake implements the client side of the two-phase key exchange.
//
// The client announces an RSA-2048 public key in a JSON text frame, answers the
// peer's public key with its own AES session key sealed by RSA-OAEP, and becomes
// Ready once the peer's session key arrives the same way. Each direction has its
// own session key: the local key opens inbound frames and the peer key seals
// outbound frames.
package handshake

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/uasalt/elemlink/codec"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/keystore"
	"github.com/uasalt/elemlink/realtime/ws"
)

var (
	// ErrProtocolDesync reports a frame that does not fit the current state.
	ErrProtocolDesync = errors.New("handshake: protocol desync")
	// ErrNotStarted is returned when a frame arrives before Start.
	ErrNotStarted = errors.New("handshake: not started")
	// ErrBadKeyExchange reports an unparseable key_exchange frame.
	ErrBadKeyExchange = errors.New("handshake: malformed key_exchange")
)

// Options tunes a Machine.
type Options struct {
	// Strict turns unexpected pre-Ready frames into ErrProtocolDesync instead of ignoring them.
	Strict bool
	// SessionKeyType is the type sent with the local session key. Defaults to TypeAESKey.
	SessionKeyType string
}

// Step is the outcome of handling one inbound frame.
type Step struct {
	Reply *ws.Frame // Frame to send to the peer, if any.
	Ready bool      // True when this frame completed the exchange.
	// Dropped explains why a lenient Machine ignored the frame. Empty otherwise.
	Dropped string
}

// Machine drives one episode's key exchange. Keys land in the KeyStore it was built with.
type Machine struct {
	mu    sync.Mutex
	keys  *keystore.KeyStore
	opts  Options
	state State
}

// New returns a Machine in Disconnected state.
func New(keys *keystore.KeyStore, opts Options) *Machine {
	if opts.SessionKeyType == "" {
		opts.SessionKeyType = TypeAESKey
	}
	return &Machine{keys: keys, opts: opts}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start generates the episode key pair and returns the key_exchange frame to send.
func (m *Machine) Start() (ws.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Disconnected {
		return ws.Frame{}, fmt.Errorf("%w: start in state %s", ErrProtocolDesync, m.state)
	}
	m.state = KeyPairGenerating
	priv, err := envelope.GenerateKeyPair()
	if err != nil {
		m.state = Disconnected
		return ws.Frame{}, err
	}
	pemKey, err := envelope.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		m.state = Disconnected
		return ws.Frame{}, err
	}
	b, err := json.Marshal(keyExchange{Type: TypeKeyExchange, Key: pemKey})
	if err != nil {
		m.state = Disconnected
		return ws.Frame{}, err
	}
	m.keys.SetLocalKeyPair(priv)
	m.state = LocalKeyExchangeSent
	return ws.Text(b), nil
}

// Sent records that the transport accepted the key_exchange frame.
func (m *Machine) Sent() {
	m.mu.Lock()
	if m.state == LocalKeyExchangeSent {
		m.state = AwaitingPeerPublicKey
	}
	m.mu.Unlock()
}

// Handle processes one pre-Ready frame. Crypto failures leave the state unchanged.
func (m *Machine) Handle(f ws.Frame) (Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Disconnected, KeyPairGenerating:
		return Step{}, ErrNotStarted
	case Ready:
		return Step{}, fmt.Errorf("%w: handshake frame after ready", ErrProtocolDesync)
	}

	if f.Type == ws.TextMessage {
		return m.handleText(f.Data)
	}
	if m.state != AwaitingPeerSessionKey {
		return m.unexpected("binary frame in state %s", m.state)
	}
	return m.handleSessionKey(f.Data)
}

// Reset returns the machine to Disconnected. The KeyStore is not touched.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Disconnected
	m.mu.Unlock()
}

func (m *Machine) handleText(data []byte) (Step, error) {
	var msg keyExchange
	if err := json.Unmarshal(data, &msg); err != nil {
		return m.unexpected("text frame is not json: %v", err)
	}
	if msg.Type != TypeKeyExchange {
		return m.unexpected("text frame type %q in state %s", msg.Type, m.state)
	}
	if m.state != LocalKeyExchangeSent && m.state != AwaitingPeerPublicKey {
		return m.unexpected("repeated key_exchange in state %s", m.state)
	}
	if msg.Key == "" {
		return Step{}, ErrBadKeyExchange
	}
	peer, err := envelope.ParsePublicKeyPEM(msg.Key)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %w", ErrBadKeyExchange, err)
	}

	local, err := envelope.GenerateSessionKey()
	if err != nil {
		return Step{}, err
	}
	body, err := codec.Encode(sessionKey{Type: m.opts.SessionKeyType, Key: envelope.EncodeSessionKey(local)})
	if err != nil {
		return Step{}, err
	}
	sealed, err := envelope.EncryptOAEP(peer, body)
	if err != nil {
		return Step{}, err
	}

	m.keys.SetPeerPublicKey(peer)
	m.keys.SetLocalSessionKey(local)
	m.state = AwaitingPeerSessionKey
	reply := ws.Binary(sealed)
	return Step{Reply: &reply}, nil
}

func (m *Machine) handleSessionKey(data []byte) (Step, error) {
	priv, ok := m.keys.LocalKeyPair()
	if !ok {
		return Step{}, ErrNotStarted
	}
	body, err := envelope.DecryptOAEP(priv, data)
	if err != nil {
		return Step{}, err
	}
	var msg sessionKey
	if err := codec.DecodeInto(body, &msg); err != nil {
		return Step{}, err
	}
	if !isSessionKeyType(msg.Type) {
		return m.unexpected("sealed frame type %q", msg.Type)
	}
	key, err := envelope.DecodeSessionKey(msg.Key)
	if err != nil {
		return Step{}, err
	}
	m.keys.SetPeerSessionKey(key)
	if !m.keys.Complete() {
		return Step{}, fmt.Errorf("%w: key material incomplete", ErrNotStarted)
	}
	m.state = Ready
	return Step{Ready: true}, nil
}

func (m *Machine) unexpected(format string, args ...any) (Step, error) {
	reason := fmt.Sprintf(format, args...)
	if !m.opts.Strict {
		return Step{Dropped: reason}, nil
	}
	return Step{}, fmt.Errorf("%w: %s", ErrProtocolDesync, reason)
}
