package signal

import (
	"errors"
	"sync"

	"github.com/dncdante911/worldmates-calls/internal/core"
)

var ErrDisconnected = errors.New("signal channel disconnected")

// Endpoint is the process-lifetime emitter handed to the call core. The
// underlying Channel is replaced on every reconnect; emissions between
// connections are dropped, never queued (the ringing timeout covers the
// loss).
type Endpoint struct {
	mu sync.RWMutex
	ch *Channel
}

func NewEndpoint() *Endpoint { return &Endpoint{} }

// Bind swaps in the current live channel.
func (e *Endpoint) Bind(ch *Channel) {
	e.mu.Lock()
	e.ch = ch
	e.mu.Unlock()
}

func (e *Endpoint) Emit(ev core.Event) error {
	e.mu.RLock()
	ch := e.ch
	e.mu.RUnlock()
	if ch == nil {
		return ErrDisconnected
	}
	return ch.Emit(ev)
}

func (e *Endpoint) Close() {
	e.mu.Lock()
	ch := e.ch
	e.ch = nil
	e.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}
