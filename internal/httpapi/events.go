package httpapi

import (
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// SyncEvent is one entry in the live feed: the outcome of a single
// webhook sync, published after the write has been applied.
type SyncEvent struct {
	ExternalID    string `json:"externalId"`
	Action        string `json:"action"`
	CorrelationID string `json:"correlationId"`
	Timestamp     string `json:"timestamp"`
}

type eventBroadcaster struct {
	mu          sync.Mutex
	subscribers map[chan SyncEvent]struct{}
}

const eventSubscriberBuffer = 16

func newEventBroadcaster() *eventBroadcaster {
	return &eventBroadcaster{subscribers: map[chan SyncEvent]struct{}{}}
}

func (b *eventBroadcaster) subscribe() chan SyncEvent {
	ch := make(chan SyncEvent, eventSubscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *eventBroadcaster) unsubscribe(ch chan SyncEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, ch)
}

// publish never blocks the sync path: a subscriber that has fallen
// behind by more than its buffer drops events.
func (b *eventBroadcaster) publish(event SyncEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *eventBroadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	// The stream is write-only; CloseRead keeps consuming control frames
	// so a client disconnect cancels the context instead of leaving this
	// handler parked until the next published event.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-ch:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}
