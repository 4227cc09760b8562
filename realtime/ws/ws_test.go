package ws

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newServer(t *testing.T, handle func(c *Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r, UpgraderOptions{CheckOrigin: func(*http.Request) bool { return true }})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFrameEcho(t *testing.T) {
	t.Parallel()

	url := newServer(t, func(c *Conn) {
		for {
			f, err := c.ReadFrame(context.Background())
			if err != nil {
				return
			}
			if err := c.WriteFrame(context.Background(), f); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := Dial(ctx, url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for _, f := range []Frame{Text([]byte(`{"type":"key_exchange"}`)), Binary([]byte{0x00, 0x01, 0xff})} {
		if err := c.WriteFrame(ctx, f); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := c.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Type != f.Type || !bytes.Equal(got.Data, f.Data) {
			t.Fatalf("echo mismatch: got %s %x want %s %x", got.Type, got.Data, f.Type, f.Data)
		}
	}
}

func TestReadFrameCanceled(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	url := newServer(t, func(c *Conn) { <-hold })
	t.Cleanup(func() { close(hold) })

	c, _, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err = c.ReadFrame(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReadFrameDeadline(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	url := newServer(t, func(c *Conn) { <-hold })
	t.Cleanup(func() { close(hold) })

	c, _, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ReadFrame(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestReadLimit(t *testing.T) {
	t.Parallel()

	url := newServer(t, func(c *Conn) {
		_ = c.WriteFrame(context.Background(), Binary(make([]byte, 65)))
		time.Sleep(100 * time.Millisecond)
	})
	c, _, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	c.SetReadLimit(64)

	_, err = c.ReadFrame(context.Background())
	if !errors.Is(err, websocket.ErrReadLimit) {
		t.Fatalf("expected websocket.ErrReadLimit, got %v", err)
	}
}

func TestIsClosed(t *testing.T) {
	t.Parallel()

	url := newServer(t, func(c *Conn) {
		_ = c.CloseWithStatus(websocket.CloseNormalClosure, "bye")
	})
	c, _, err := Dial(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_, err = c.ReadFrame(context.Background())
	if !IsClosed(err) {
		t.Fatalf("expected close error, got %v", err)
	}
	if IsClosed(errors.New("x")) {
		t.Fatal("plain error reported as closed")
	}
}

func TestDialHonorsHeader(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Client")
		c, err := Upgrade(w, r, UpgraderOptions{})
		if err != nil {
			return
		}
		_ = c.Close()
	}))
	t.Cleanup(srv.Close)

	h := http.Header{}
	h.Set("X-Client", "elemlink")
	c, _, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), DialOptions{Header: h})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Close()
	if v := <-got; v != "elemlink" {
		t.Fatalf("header = %q", v)
	}
}
