package service

import "sync"

// EventKind names what changed in a viewer session.
type EventKind string

const (
	EventMarker        EventKind = "marker"
	EventPopup         EventKind = "popup"
	EventView          EventKind = "view"
	EventHeatmap       EventKind = "heatmap"
	EventLayer         EventKind = "layer"
	EventFeatures      EventKind = "features"
	EventLayersCleared EventKind = "layers-cleared"
	EventAlert         EventKind = "alert"
	EventImport        EventKind = "import"
)

// Event is a session state change pushed to the viewer. Data holds one of
// MarkerState, PopupState, View, heatmap.Params, LayerState, FeatureBatch,
// LayersCleared, Alert or ImportStatus.
type Event struct {
	Kind EventKind
	Data any
}

// EventBus is a simple fan-out pub/sub for session events.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events. On a closed bus
// the channel is returned already closed.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Subscribers returns the number of live subscribers.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		close(ch)
	}
	clear(b.subs)
	b.closed = true
}
