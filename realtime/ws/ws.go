// Package ws wraps gorilla/websocket with context-aware frame I/O.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// MessageType is the websocket opcode of a data frame.
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one complete websocket data message.
type Frame struct {
	Type MessageType
	Data []byte
}

// Text returns a text frame carrying b.
func Text(b []byte) Frame { return Frame{Type: TextMessage, Data: b} }

// Binary returns a binary frame carrying b.
func Binary(b []byte) Frame { return Frame{Type: BinaryMessage, Data: b} }

// Conn is a websocket connection. Reads must come from a single goroutine;
// writes may be issued concurrently and are serialized.
type Conn struct {
	c       *websocket.Conn
	writeMu sync.Mutex
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// DialOptions configures Dial.
type DialOptions struct {
	Header http.Header       // Extra headers for the opening handshake.
	Dialer *websocket.Dialer // Optional; a zero Dialer is used when nil.
}

// Dial opens a websocket connection. The opening handshake honors ctx's deadline.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	var d websocket.Dialer
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		dl := time.Until(deadline)
		if d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// SetReadLimit bounds the size of a single inbound message.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// ReadFrame reads the next data frame. A canceled ctx unblocks the read.
func (c *Conn) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	deadline, hasDeadline := ctx.Deadline()
	_ = c.c.SetReadDeadline(deadline)
	stop := interruptOnDone(ctx, c.c.SetReadDeadline)
	mt, b, err := c.c.ReadMessage()
	stop()
	if err != nil {
		return Frame{}, mapTimeout(ctx, err, deadline, hasDeadline)
	}
	return Frame{Type: MessageType(mt), Data: b}, nil
}

// WriteFrame writes f. A canceled ctx unblocks the write.
func (c *Conn) WriteFrame(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, hasDeadline := ctx.Deadline()
	_ = c.c.SetWriteDeadline(deadline)
	stop := interruptOnDone(ctx, c.c.SetWriteDeadline)
	err := c.c.WriteMessage(int(f.Type), f.Data)
	stop()
	if err != nil {
		return mapTimeout(ctx, err, deadline, hasDeadline)
	}
	return nil
}

// Close closes the connection without a close handshake.
func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.c.Close()
}

// IsClosed reports whether err is a websocket close or a use of a closed connection.
func IsClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, net.ErrClosed)
}

// gorilla/websocket only unblocks on deadlines, so cancellation is turned
// into an immediate deadline.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	var active atomic.Bool
	active.Store(true)
	cancel := context.AfterFunc(ctx, func() {
		if active.Load() {
			_ = setDeadline(time.Now())
		}
	})
	return func() {
		active.Store(false)
		cancel()
	}
}

func mapTimeout(ctx context.Context, err error, deadline time.Time, hasDeadline bool) error {
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	// The socket deadline can fire slightly before the context timer.
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}
