package chat

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietchat/chat-backend/internal/types"
)

// ErrNotStreamTarget is returned when a delta is applied to a message
// that is not the open assistant placeholder at the end of the
// transcript. This indicates a controller bug, not a user error; the
// caller logs it and drops the delta rather than crashing the session.
var ErrNotStreamTarget = errors.New("message is not the streaming placeholder")

// Transcript is the ordered sequence of messages for the active session
// and the single source of truth for the conversation. Insertion order
// is conversation order; messages are never reordered. Mutation goes
// through the owning controller, whose single-flight guard ensures one
// writer; the lock exists so the HTTP edge can read mid-stream.
type Transcript struct {
	mu   sync.RWMutex
	msgs []types.Message
}

// NewTranscript creates a transcript seeded with the session system
// message.
func NewTranscript(systemPrompt string) *Transcript {
	t := &Transcript{}
	t.Append(types.Message{Role: types.RoleSystem, Content: systemPrompt})
	return t
}

// Append adds a message to the end of the transcript and returns its
// handle. A zero ID and CreatedAt are filled in.
func (t *Transcript) Append(msg types.Message) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	t.msgs = append(t.msgs, msg)
	return msg.ID
}

// AppendDelta concatenates delta onto the content of the identified
// message. The target must be the last message and an assistant turn;
// anything else returns ErrNotStreamTarget.
func (t *Transcript) AppendDelta(id uuid.UUID, delta string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.msgs) == 0 {
		return ErrNotStreamTarget
	}
	last := &t.msgs[len(t.msgs)-1]
	if last.ID != id || last.Role != types.RoleAssistant {
		return ErrNotStreamTarget
	}
	last.Content += delta
	return nil
}

// Apply merges patch into the identified message, leaving other fields
// untouched.
func (t *Transcript) Apply(id uuid.UUID, patch types.MessagePatch) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].ID != id {
			continue
		}
		msg := &t.msgs[i]
		if patch.Content != nil {
			msg.Content = *patch.Content
		}
		if patch.DisplayContent != nil {
			msg.DisplayContent = *patch.DisplayContent
		}
		if patch.AudioID != nil {
			msg.AudioID = patch.AudioID
		}
		if patch.Attachments != nil {
			msg.Attachments = patch.Attachments
		}
		return nil
	}
	return fmt.Errorf("message %s not found", id)
}

// Retract removes the identified message. Only the last two messages
// may be retracted; this exists solely so the controller can withdraw a
// transient turn when an enrichment fetch fails before the provider is
// called.
func (t *Transcript) Retract(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.msgs) - 1; i >= 0 && i >= len(t.msgs)-2; i-- {
		if t.msgs[i].ID == id {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message %s is not retractable", id)
}

// Get returns the identified message.
func (t *Transcript) Get(id uuid.UUID) (types.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.msgs) - 1; i >= 0; i-- {
		if t.msgs[i].ID == id {
			return t.msgs[i], true
		}
	}
	return types.Message{}, false
}

// Messages returns a snapshot of the transcript in conversation order.
func (t *Transcript) Messages() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages in the transcript.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}
