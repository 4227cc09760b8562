package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uasalt/elemlink/internal/rayid"
)

func TestRegisterAssignsRayIDs(t *testing.T) {
	r := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		p, err := r.Register()
		require.NoError(t, err)
		require.NoError(t, rayid.Validate(p.ID()))
		require.False(t, seen[p.ID()])
		seen[p.ID()] = true
		require.WithinDuration(t, time.Now().Add(5*time.Second), p.Deadline(), time.Second)
	}
	require.Equal(t, 100, r.Len())
}

func TestRegisterRegeneratesCollidingIDs(t *testing.T) {
	ids := []string{"a", "a", "a", "b"}
	r := New(WithIDFunc(func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}))
	p1, err := r.Register()
	require.NoError(t, err)
	p2, err := r.Register()
	require.NoError(t, err)
	require.Equal(t, "a", p1.ID())
	require.Equal(t, "b", p2.ID())

	r = New(WithIDFunc(func() (string, error) { return "same", nil }))
	_, err = r.Register()
	require.NoError(t, err)
	_, err = r.Register()
	require.ErrorIs(t, err, ErrIDExhausted)

	boom := errors.New("entropy")
	r = New(WithIDFunc(func() (string, error) { return "", boom }))
	_, err = r.Register()
	require.ErrorIs(t, err, boom)
}

func TestResolveOutOfOrder(t *testing.T) {
	r := New()
	ps := make([]*Pending, 3)
	for i := range ps {
		p, err := r.Register()
		require.NoError(t, err)
		ps[i] = p
	}
	for i := len(ps) - 1; i >= 0; i-- {
		require.True(t, r.Resolve(ps[i].ID(), map[string]any{"n": int64(i)}))
	}
	for i, p := range ps {
		msg, err := p.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, int64(i), msg["n"])
	}
	require.Zero(t, r.Len())
}

func TestResolveUnknownIsNoop(t *testing.T) {
	r := New()
	require.False(t, r.Resolve("nope", map[string]any{}))

	p, err := r.Register()
	require.NoError(t, err)
	require.True(t, r.Resolve(p.ID(), map[string]any{"first": true}))
	require.False(t, r.Resolve(p.ID(), map[string]any{"second": true}))
	msg, err := p.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, true, msg["first"])
}

func TestTimeoutFailsAndRemoves(t *testing.T) {
	r := New(WithTimeout(30 * time.Millisecond))
	p, err := r.Register()
	require.NoError(t, err)

	_, err = p.Wait(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Zero(t, r.Len())
	require.False(t, r.Outstanding(p.ID()))
	// A late response is ignored.
	require.False(t, r.Resolve(p.ID(), map[string]any{}))
}

func TestNoTimeout(t *testing.T) {
	r := New(WithTimeout(0))
	p, err := r.Register()
	require.NoError(t, err)
	require.True(t, p.Deadline().IsZero())

	select {
	case <-p.Done():
		t.Fatal("request finished without a response")
	case <-time.After(30 * time.Millisecond):
	}
	require.True(t, r.Resolve(p.ID(), nil))
}

func TestWaitContextCancels(t *testing.T) {
	r := New()
	p, err := r.Register()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, r.Len())
}

func TestCloseFailsEverything(t *testing.T) {
	r := New()
	closedErr := errors.New("session closed")
	var ps []*Pending
	for i := 0; i < 3; i++ {
		p, err := r.Register()
		require.NoError(t, err)
		ps = append(ps, p)
	}
	r.Close(closedErr)
	for _, p := range ps {
		_, err := p.Wait(context.Background())
		require.ErrorIs(t, err, closedErr)
	}
	_, err := r.Register()
	require.ErrorIs(t, err, closedErr)

	r2 := New()
	r2.Close(nil)
	_, err = r2.Register()
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentRegisterResolve(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Register()
			if err != nil {
				errs <- err
				return
			}
			go r.Resolve(p.ID(), map[string]any{"i": int64(i)})
			msg, err := p.Wait(context.Background())
			if err != nil {
				errs <- err
				return
			}
			if msg["i"] != int64(i) {
				errs <- fmt.Errorf("request %d got %v", i, msg["i"])
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	require.Zero(t, r.Len())
}
