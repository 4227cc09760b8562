// Package rpc correlates responses with outstanding requests by ray id.
package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uasalt/elemlink/internal/defaults"
	"github.com/uasalt/elemlink/internal/rayid"
)

var (
	// ErrTimeout fails a request whose response did not arrive within the registry timeout.
	ErrTimeout = errors.New("rpc timeout")
	// ErrClosed is returned by Register after Close.
	ErrClosed = errors.New("rpc registry closed")
	// ErrIDExhausted is returned when no unique id could be generated.
	ErrIDExhausted = errors.New("rpc: could not allocate a unique ray id")
)

const maxIDAttempts = 8

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-request timeout. Non-positive values disable it.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithIDFunc overrides ray id generation.
func WithIDFunc(fn func() (string, error)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Registry tracks outstanding requests. It is safe for concurrent use.
type Registry struct {
	timeout time.Duration
	newID   func() (string, error)

	mu       sync.Mutex
	pending  map[string]*Pending
	closed   bool
	closeErr error
}

// New returns an empty Registry with the default request timeout.
func New(opts ...Option) *Registry {
	r := &Registry{
		timeout: defaults.RequestTimeout,
		newID:   rayid.New,
		pending: make(map[string]*Pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register allocates a fresh id and starts its timeout.
func (r *Registry) Register() (*Pending, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, r.closeErr
	}
	var id string
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return nil, ErrIDExhausted
		}
		next, err := r.newID()
		if err != nil {
			return nil, err
		}
		if _, taken := r.pending[next]; !taken {
			id = next
			break
		}
	}
	p := &Pending{id: id, registry: r, done: make(chan struct{})}
	if r.timeout > 0 {
		p.deadline = time.Now().Add(r.timeout)
		p.timer = time.AfterFunc(r.timeout, func() { r.fail(id, ErrTimeout) })
	}
	r.pending[id] = p
	return p, nil
}

// Resolve completes the request with id. Unknown or already finished ids are ignored.
func (r *Registry) Resolve(id string, msg map[string]any) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	p.finish(msg, nil)
	return true
}

// Cancel fails the request with id with err.
func (r *Registry) Cancel(id string, err error) bool {
	return r.fail(id, err)
}

// Close fails every outstanding request with err and rejects new registrations.
func (r *Registry) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.closeErr = err
	all := r.pending
	r.pending = make(map[string]*Pending)
	r.mu.Unlock()

	for _, p := range all {
		p.finish(nil, err)
	}
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Outstanding reports whether id is still awaiting a response.
func (r *Registry) Outstanding(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

func (r *Registry) fail(id string, err error) bool {
	p := r.take(id)
	if p == nil {
		return false
	}
	p.finish(nil, err)
	return true
}

func (r *Registry) take(id string) *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

// Pending is one outstanding request.
type Pending struct {
	id       string
	deadline time.Time
	registry *Registry
	timer    *time.Timer

	once sync.Once
	done chan struct{}
	msg  map[string]any
	err  error
}

// ID returns the ray id assigned to the request.
func (p *Pending) ID() string { return p.id }

// Deadline returns when the request times out. It is zero when there is no timeout.
func (p *Pending) Deadline() time.Time { return p.deadline }

// Done is closed once the request is resolved or failed.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the response arrives, the request fails, or ctx is done.
// A done ctx cancels the request.
func (p *Pending) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		p.registry.Cancel(p.id, ctx.Err())
		<-p.done
		return p.msg, p.err
	}
}

func (p *Pending) finish(msg map[string]any, err error) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.msg = msg
		p.err = err
		close(p.done)
	})
}
