package receipt

import "sync"

// EventType identifies a row-change notification.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a single row change scoped to one trip.
type Event struct {
	Type    EventType `json:"type"`
	Receipt *Receipt  `json:"receipt"`
}

// Merge folds an event into an ID-keyed ordered receipt list. Inserts are
// de-duplicated by ID, updates replace in place, deletes remove by ID. It
// is a pure function independent of the transport delivering the events.
func Merge(receipts []*Receipt, event Event) []*Receipt {
	if event.Receipt == nil {
		return receipts
	}

	switch event.Type {
	case EventInsert:
		for _, r := range receipts {
			if r.ID == event.Receipt.ID {
				return receipts
			}
		}
		return append([]*Receipt{event.Receipt}, receipts...)
	case EventUpdate:
		out := make([]*Receipt, len(receipts))
		for i, r := range receipts {
			if r.ID == event.Receipt.ID {
				out[i] = event.Receipt
			} else {
				out[i] = r
			}
		}
		return out
	case EventDelete:
		out := make([]*Receipt, 0, len(receipts))
		for _, r := range receipts {
			if r.ID != event.Receipt.ID {
				out = append(out, r)
			}
		}
		return out
	}
	return receipts
}

// Hub fans row-change events out to per-trip subscribers. A subscriber that
// cannot keep up has events dropped rather than blocking the upload
// pipeline.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a listener for one trip's events. The returned cancel
// function unregisters the listener and closes the channel.
func (h *Hub) Subscribe(tripID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[tripID] == nil {
		h.subs[tripID] = make(map[chan Event]struct{})
	}
	h.subs[tripID][ch] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[tripID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, tripID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the trip.
func (h *Hub) Publish(tripID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[tripID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop the event.
		}
	}
}
