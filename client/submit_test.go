package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/uasalt/elemlink/codec"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/elerrors"
	"github.com/uasalt/elemlink/internal/testutil/fakepeer"
	"github.com/uasalt/elemlink/outbox"
)

func readySession(t *testing.T) (*Session, *fakepeer.Peer) {
	t.Helper()
	peer := fakepeer.New(t, fakepeer.Options{})
	s, err := New(peer.URL,
		WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
		WithReconnectDelay(time.Hour),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	return s, peer
}

func registerItem(t *testing.T, s *Session) outbox.Item {
	t.Helper()
	p, err := s.registry.Register()
	require.NoError(t, err)
	body, err := codec.Encode(map[string]any{FieldType: "ping", FieldRayID: p.ID()})
	require.NoError(t, err)
	return outbox.Item{ID: p.ID(), Body: body, QueuedAt: time.Now()}
}

func TestSubmitFailsRequestWhenWriteFails(t *testing.T) {
	s, peer := readySession(t)

	s.mu.Lock()
	s.ep.keys.SetPeerSessionKey([]byte{1, 2, 3})
	s.mu.Unlock()

	resp, err := s.Send(context.Background(), Message{FieldType: "ping"})
	require.Nil(t, resp)
	require.Error(t, err)
	require.True(t, errors.Is(err, envelope.ErrInvalidKey), "err=%v", err)
	require.Equal(t, elerrors.CodeCrypto, elerrors.Classify(err))
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, StageSecure, e.Stage)
	require.Zero(t, s.Queued())
	require.Zero(t, s.Pending())
	require.Zero(t, peer.ClientFrames())
}

func TestSubmitQueuesWhenLinkIsClosed(t *testing.T) {
	s, _ := readySession(t)

	s.mu.Lock()
	link := s.ep.link
	s.mu.Unlock()
	link.Close()

	item := registerItem(t, s)
	s.submit(context.Background(), item)

	require.Equal(t, 1, s.Queued())
	require.True(t, s.registry.Outstanding(item.ID))
	require.True(t, s.queue.Remove(item.ID))
}
