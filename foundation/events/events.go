// Package events allows for the registering and receiving of simulation
// events so websocket clients can observe the network as it runs.
package events

import (
	"fmt"
	"sync"

	"github.com/chainmesh/gossipsim/foundation/gossip/sim"
)

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive simulation events.
type Events struct {
	m  map[string]chan sim.Event
	mu sync.RWMutex
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan sim.Event),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan sim.Event {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// The simulation never blocks on a slow websocket receiver, so the
	// buffer absorbs the burst of events produced within one tick. An
	// event is dropped when the receiver falls further behind than this.
	const messageBuffer = 1000

	evt.m[id] = make(chan sim.Event, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals an event to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(v sim.Event) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- v:
		default:
		}
	}
}
