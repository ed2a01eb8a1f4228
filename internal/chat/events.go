package chat

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vietchat/chat-backend/internal/types"
)

// EventType identifies a transcript event.
type EventType string

const (
	// EventMessage announces a newly appended message.
	EventMessage EventType = "message"
	// EventUpdated announces a patched message (audio ref, resolved content).
	EventUpdated EventType = "updated"
	// EventDelta carries one streamed text fragment.
	EventDelta EventType = "delta"
	// EventRetracted announces a withdrawn transient message.
	EventRetracted EventType = "retracted"
	// EventDone marks normal completion of a cycle.
	EventDone EventType = "done"
	// EventCancelled marks a cycle ended by explicit user cancel.
	EventCancelled EventType = "cancelled"
	// EventError marks a cycle ended by a transport or adapter failure.
	EventError EventType = "error"
)

// Event is one UI-facing transcript notification.
type Event struct {
	Type      EventType      `json:"type"`
	MessageID uuid.UUID      `json:"message_id,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Message   *types.Message `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
}

const subscriberBuffer = 256

// broadcaster fans transcript events out to SSE subscribers. A
// subscriber that falls more than subscriberBuffer events behind loses
// events rather than stalling the streaming cycle.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
