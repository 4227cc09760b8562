package keystore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uasalt/elemlink/crypto/envelope"
)

func TestKeyStoreAbsentUntilSet(t *testing.T) {
	s := New()
	_, ok := s.LocalKeyPair()
	require.False(t, ok)
	_, ok = s.LocalSessionKey()
	require.False(t, ok)
	_, ok = s.PeerSessionKey()
	require.False(t, ok)
	require.False(t, s.Complete())
}

func TestKeyStoreSetGetReset(t *testing.T) {
	priv, err := envelope.GenerateKeyPair()
	require.NoError(t, err)
	local, err := envelope.GenerateSessionKey()
	require.NoError(t, err)
	peer, err := envelope.GenerateSessionKey()
	require.NoError(t, err)

	s := New()
	s.SetLocalKeyPair(priv)
	s.SetPeerPublicKey(&priv.PublicKey)
	s.SetLocalSessionKey(local)
	require.False(t, s.Complete())
	s.SetPeerSessionKey(peer)
	require.True(t, s.Complete())

	got, ok := s.LocalSessionKey()
	require.True(t, ok)
	require.Equal(t, local, got)

	// Returned slices are copies.
	got[0] ^= 0xff
	again, _ := s.LocalSessionKey()
	require.Equal(t, local, again)

	gotPeer, ok := s.PeerSessionKey()
	require.True(t, ok)
	require.Equal(t, peer, gotPeer)

	kp, ok := s.LocalKeyPair()
	require.True(t, ok)
	require.Same(t, priv, kp)

	s.Reset()
	_, ok = s.LocalKeyPair()
	require.False(t, ok)
	require.False(t, s.Complete())

	// The peer public key alone does not complete the exchange.
	s.SetLocalSessionKey(local)
	s.SetPeerSessionKey(peer)
	require.False(t, s.Complete())
	s.SetLocalKeyPair(priv)
	s.SetPeerPublicKey(&priv.PublicKey)
	require.True(t, s.Complete())
}

func TestKeyStoreStoresCopy(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	s := New()
	s.SetPeerSessionKey(key)
	key[0] = 'X'
	got, _ := s.PeerSessionKey()
	require.Equal(t, byte('0'), got[0])
}
