package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message represents a single turn in the session transcript.
type Message struct {
	ID      uuid.UUID   `json:"id"`
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	// DisplayContent, when set, is shown in place of Content. Used when
	// Content has been enriched with injected reference material (news
	// digests, extracted document text) the user should not see verbatim.
	DisplayContent string       `json:"display_content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	AudioID        *uuid.UUID   `json:"audio_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ForDisplay returns the message as the UI should render it, with
// DisplayContent substituted for the full content when present.
func (m Message) ForDisplay() Message {
	if m.DisplayContent != "" {
		m.Content = m.DisplayContent
	}
	return m
}

// Attachment is a user-supplied file associated with a turn. FileID is
// the provider-assigned identifier and stays empty while Pending.
type Attachment struct {
	ID       uuid.UUID `json:"id"`
	FileID   string    `json:"file_id,omitempty"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MIMEType string    `json:"mime_type"`
	Pending  bool      `json:"pending"`
}

// MessagePatch carries field updates merged into an existing message.
// Nil pointer fields are left untouched.
type MessagePatch struct {
	Content        *string
	DisplayContent *string
	AudioID        *uuid.UUID
	Attachments    []Attachment
}
