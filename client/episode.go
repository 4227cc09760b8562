package client

import (
	"time"

	"github.com/uasalt/elemlink/handshake"
	"github.com/uasalt/elemlink/keystore"
	"github.com/uasalt/elemlink/transport"
)

// episode is everything bound to one socket. It is rebuilt from scratch on every dial.
type episode struct {
	link      *transport.Link
	keys      *keystore.KeyStore
	hs        *handshake.Machine
	startedAt time.Time
	ready     bool
}

func newEpisode(l *transport.Link, cfg options) *episode {
	keys := keystore.New()
	return &episode{
		link:      l,
		keys:      keys,
		hs:        handshake.New(keys, handshake.Options{Strict: cfg.strict, SessionKeyType: cfg.sessionKeyType}),
		startedAt: time.Now(),
	}
}

func (e *episode) end() {
	e.ready = false
	e.keys.Reset()
	e.hs.Reset()
}
