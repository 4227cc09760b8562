package transport

import (
	"sync"

	"github.com/uasalt/elemlink/observability"
)

type dialCounter struct {
	observability.SessionObserver
	mu    sync.Mutex
	fails int
}

func (d *dialCounter) Dial(result observability.DialResult) {
	if result == observability.DialResultFail {
		d.mu.Lock()
		d.fails++
		d.mu.Unlock()
	}
}

func (d *dialCounter) Reconnect() {}

func (d *dialCounter) failures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fails
}
