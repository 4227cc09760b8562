// Package fakepeer runs the server side of the session protocol over httptest for tests.
package fakepeer

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/uasalt/elemlink/codec"
	"github.com/uasalt/elemlink/crypto/envelope"
	"github.com/uasalt/elemlink/realtime/ws"
)

// HandlerFunc answers one request. Returning ok=false sends nothing.
type HandlerFunc func(req map[string]any) (resp map[string]any, ok bool)

// Options configures a Peer.
type Options struct {
	Suite          envelope.Suite // Defaults to SuiteCBC.
	SessionKeyType string         // Type of the peer's sealed session key. Defaults to "aes_key".
	// GarbageFirst sends an undecryptable binary frame before the real session key.
	GarbageFirst bool
	// StrayFrameFirst sends a binary frame before the peer's key_exchange.
	StrayFrameFirst bool
	// Gate, when set, delays the peer's session key until it is closed.
	Gate <-chan struct{}
	// Handler answers requests. The default echoes type with status "success".
	Handler HandlerFunc
}

// Peer is a running fake server. All methods are safe for concurrent use.
type Peer struct {
	URL string

	t      testing.TB
	opts   Options
	cipher envelope.SessionCipher
	srv    *httptest.Server

	requests chan map[string]any

	mu                sync.Mutex
	conns             []*peerConn
	clientPublicKeys  []*rsa.PublicKey
	clientSessionKeys [][]byte
	serverSessionKeys [][]byte
	rawClientFrames   int
}

type peerConn struct {
	c          *ws.Conn
	clientKey  []byte // seals frames to the client
	serverKey  []byte // opens frames from the client
	ready      chan struct{}
	readyClose sync.Once
}

// New starts a Peer. It is shut down by t.Cleanup.
func New(t testing.TB, opts Options) *Peer {
	t.Helper()
	if opts.Suite == 0 {
		opts.Suite = envelope.SuiteCBC
	}
	if opts.SessionKeyType == "" {
		opts.SessionKeyType = "aes_key"
	}
	if opts.Handler == nil {
		opts.Handler = Echo
	}
	c, err := envelope.CipherForSuite(opts.Suite)
	if err != nil {
		t.Fatalf("fakepeer: %v", err)
	}
	p := &Peer{t: t, opts: opts, cipher: c, requests: make(chan map[string]any, 256)}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	p.URL = "ws" + strings.TrimPrefix(p.srv.URL, "http")
	t.Cleanup(func() {
		p.DropAll()
		p.srv.Close()
	})
	return p
}

// Echo replies with status "success" and the request's type.
func Echo(req map[string]any) (map[string]any, bool) {
	return map[string]any{"status": "success", "type": req["type"]}, true
}

// Requests yields every decrypted request in arrival order.
func (p *Peer) Requests() <-chan map[string]any { return p.requests }

// Episodes returns how many connections completed the client key_exchange.
func (p *Peer) Episodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clientPublicKeys)
}

// ClientPublicKeys returns the RSA keys the client announced, one per episode.
func (p *Peer) ClientPublicKeys() []*rsa.PublicKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*rsa.PublicKey(nil), p.clientPublicKeys...)
}

// ClientSessionKeys returns the session keys the client sent, one per episode.
func (p *Peer) ClientSessionKeys() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.clientSessionKeys...)
}

// ServerSessionKeys returns the session keys this peer sent, one per episode.
func (p *Peer) ServerSessionKeys() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.serverSessionKeys...)
}

// ClientFrames counts frames received after the key exchange, across all episodes.
func (p *Peer) ClientFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rawClientFrames
}

// Push seals msg for the client on the most recent ready connection.
func (p *Peer) Push(msg map[string]any) error {
	pc := p.latest()
	if pc == nil {
		return errors.New("fakepeer: no connection")
	}
	<-pc.ready
	return p.reply(pc, msg)
}

// PushText writes a raw text frame on the most recent connection.
func (p *Peer) PushText(s string) error {
	pc := p.latest()
	if pc == nil {
		return errors.New("fakepeer: no connection")
	}
	return pc.c.WriteFrame(context.Background(), ws.Text([]byte(s)))
}

// DropAll closes every open connection.
func (p *Peer) DropAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, pc := range conns {
		_ = pc.c.Close()
	}
}

func (p *Peer) latest() *peerConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

func (p *Peer) serve(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
	if err != nil {
		p.t.Errorf("fakepeer: upgrade: %v", err)
		return
	}
	pc := &peerConn{c: c, ready: make(chan struct{})}
	p.mu.Lock()
	p.conns = append(p.conns, pc)
	p.mu.Unlock()
	defer c.Close()

	if err := p.handshake(pc); err != nil {
		return
	}
	for {
		f, err := c.ReadFrame(context.Background())
		if err != nil {
			return
		}
		p.mu.Lock()
		p.rawClientFrames++
		p.mu.Unlock()
		if f.Type != ws.BinaryMessage {
			continue
		}
		body, err := p.cipher.Open(pc.serverKey, f.Data)
		if err != nil {
			p.t.Errorf("fakepeer: open client frame: %v", err)
			continue
		}
		req, err := codec.DecodeMap(body)
		if err != nil {
			p.t.Errorf("fakepeer: decode client frame: %v", err)
			continue
		}
		p.requests <- req
		resp, ok := p.opts.Handler(req)
		if !ok {
			continue
		}
		if _, has := resp["ray_id"]; !has {
			resp["ray_id"] = req["ray_id"]
		}
		if err := p.reply(pc, resp); err != nil {
			return
		}
	}
}

func (p *Peer) handshake(pc *peerConn) error {
	ctx := context.Background()

	f, err := pc.c.ReadFrame(ctx)
	if err != nil {
		return err
	}
	var hello struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}
	if err := json.Unmarshal(f.Data, &hello); err != nil || f.Type != ws.TextMessage || hello.Type != "key_exchange" {
		p.t.Errorf("fakepeer: expected key_exchange text frame, got %s %q", f.Type, f.Data)
		return errors.New("bad hello")
	}
	clientPub, err := envelope.ParsePublicKeyPEM(hello.Key)
	if err != nil {
		p.t.Errorf("fakepeer: client key: %v", err)
		return err
	}
	p.mu.Lock()
	p.clientPublicKeys = append(p.clientPublicKeys, clientPub)
	p.mu.Unlock()

	priv, err := envelope.GenerateKeyPair()
	if err != nil {
		return err
	}
	pemKey, err := envelope.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	if p.opts.StrayFrameFirst {
		if err := pc.c.WriteFrame(ctx, ws.Binary(make([]byte, 48))); err != nil {
			return err
		}
	}
	b, _ := json.Marshal(map[string]string{"type": "key_exchange", "key": pemKey})
	if err := pc.c.WriteFrame(ctx, ws.Text(b)); err != nil {
		return err
	}

	f, err = pc.c.ReadFrame(ctx)
	if err != nil {
		return err
	}
	body, err := envelope.DecryptOAEP(priv, f.Data)
	if err != nil {
		p.t.Errorf("fakepeer: client session key: %v", err)
		return err
	}
	msg, err := codec.DecodeMap(body)
	if err != nil {
		return err
	}
	keyB64, _ := msg["key"].(string)
	clientKey, err := envelope.DecodeSessionKey(keyB64)
	if err != nil {
		p.t.Errorf("fakepeer: client session key %v: %v", msg, err)
		return err
	}
	pc.clientKey = clientKey

	serverKey, err := envelope.GenerateSessionKey()
	if err != nil {
		return err
	}
	pc.serverKey = serverKey
	p.mu.Lock()
	p.clientSessionKeys = append(p.clientSessionKeys, clientKey)
	p.serverSessionKeys = append(p.serverSessionKeys, serverKey)
	p.mu.Unlock()

	if p.opts.GarbageFirst {
		if err := pc.c.WriteFrame(ctx, ws.Binary(make([]byte, clientPub.Size()))); err != nil {
			return err
		}
	}
	if p.opts.Gate != nil {
		<-p.opts.Gate
	}
	sealedBody, err := codec.Encode(map[string]any{"type": p.opts.SessionKeyType, "key": envelope.EncodeSessionKey(serverKey)})
	if err != nil {
		return err
	}
	sealed, err := envelope.EncryptOAEP(clientPub, sealedBody)
	if err != nil {
		return err
	}
	if err := pc.c.WriteFrame(ctx, ws.Binary(sealed)); err != nil {
		return err
	}
	pc.readyClose.Do(func() { close(pc.ready) })
	return nil
}

func (p *Peer) reply(pc *peerConn, msg map[string]any) error {
	body, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("fakepeer: encode reply: %w", err)
	}
	env, err := p.cipher.Seal(pc.clientKey, body)
	if err != nil {
		return err
	}
	return pc.c.WriteFrame(context.Background(), ws.Binary(env))
}
