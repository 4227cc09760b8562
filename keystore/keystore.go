// Package keystore holds the key material of one connection episode.
//
// A KeyStore is created empty when an episode begins and is reset when the
// socket closes. Nothing in it survives a reconnect.
package keystore

import (
	"crypto/rsa"
	"sync"

	"github.com/uasalt/elemlink/internal/memzero"
)

// KeyStore is safe for concurrent use.
type KeyStore struct {
	mu sync.RWMutex

	localKeyPair    *rsa.PrivateKey
	localSessionKey []byte
	peerPublicKey   *rsa.PublicKey
	peerSessionKey  []byte
}

// New returns an empty KeyStore.
func New() *KeyStore { return &KeyStore{} }

func (s *KeyStore) SetLocalKeyPair(k *rsa.PrivateKey) {
	s.mu.Lock()
	s.localKeyPair = k
	s.mu.Unlock()
}

func (s *KeyStore) LocalKeyPair() (*rsa.PrivateKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localKeyPair, s.localKeyPair != nil
}

// SetLocalSessionKey stores a copy of key. The local session key decrypts inbound frames.
func (s *KeyStore) SetLocalSessionKey(key []byte) {
	s.mu.Lock()
	memzero.Zero(s.localSessionKey)
	s.localSessionKey = clone(key)
	s.mu.Unlock()
}

// LocalSessionKey returns a copy of the local session key.
func (s *KeyStore) LocalSessionKey() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.localSessionKey), s.localSessionKey != nil
}

func (s *KeyStore) SetPeerPublicKey(k *rsa.PublicKey) {
	s.mu.Lock()
	s.peerPublicKey = k
	s.mu.Unlock()
}

// SetPeerSessionKey stores a copy of key. The peer session key encrypts outbound frames.
func (s *KeyStore) SetPeerSessionKey(key []byte) {
	s.mu.Lock()
	memzero.Zero(s.peerSessionKey)
	s.peerSessionKey = clone(key)
	s.mu.Unlock()
}

// PeerSessionKey returns a copy of the peer session key.
func (s *KeyStore) PeerSessionKey() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.peerSessionKey), s.peerSessionKey != nil
}

// Complete reports whether every key of the exchange is present.
func (s *KeyStore) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localKeyPair != nil && s.peerPublicKey != nil && s.localSessionKey != nil && s.peerSessionKey != nil
}

// Reset zeroes the symmetric keys and drops all material.
func (s *KeyStore) Reset() {
	s.mu.Lock()
	memzero.Zero(s.localSessionKey)
	memzero.Zero(s.peerSessionKey)
	s.localKeyPair = nil
	s.localSessionKey = nil
	s.peerPublicKey = nil
	s.peerSessionKey = nil
	s.mu.Unlock()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
