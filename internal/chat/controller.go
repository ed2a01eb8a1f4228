package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vietchat/chat-backend/internal/ai/openai"
	"github.com/vietchat/chat-backend/internal/feed"
	"github.com/vietchat/chat-backend/internal/types"
)

// State is the controller's send/receive cycle state.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
)

var (
	// ErrBusy is returned when a send is requested while a cycle is
	// already in flight. The transcript is untouched.
	ErrBusy = errors.New("a request is already in flight")
	// ErrEmptyMessage is returned when there is neither text nor an
	// attachment to send.
	ErrEmptyMessage = errors.New("nothing to send")
	// ErrAttachmentPending blocks sending while an upload is unresolved.
	ErrAttachmentPending = errors.New("attachment upload still in progress")
	// ErrCancelled is the distinguished condition recorded when the
	// user cancels an in-flight cycle.
	ErrCancelled = errors.New("query cancelled")
)

const (
	promptNewsSummary     = "Summarize the following news articles briefly:"
	promptDocumentSummary = "Summarize the following text:"
	promptSpeech          = "Read this text aloud"
	promptTranscribe      = "Transcribe the audio recording"
	noticeFetchingNews    = "Fetching news feed…"
)

// Config is the controller's explicit configuration. It is passed in at
// construction so behavior does not depend on ambient state.
type Config struct {
	ChatModel   string
	TTSModel    string
	TTSVoice    string
	STTModel    string
	STTLanguage string
}

// Controller owns the transcript and governs the send/receive cycle:
// Idle → Sending → Streaming → Idle. Only one cycle may be active at a
// time; the single-flight guard is what makes transcript mutation
// single-writer.
type Controller struct {
	cfg         Config
	ai          *openai.Client
	feeds       *feed.Source
	transcript  *Transcript
	attachments *AttachmentStore
	audio       *AudioStore
	logger      *logrus.Logger
	events      broadcaster

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	lastErr error
}

// NewController creates a conversation controller.
func NewController(cfg Config, ai *openai.Client, feeds *feed.Source, transcript *Transcript, attachments *AttachmentStore, audio *AudioStore, logger *logrus.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		ai:          ai,
		feeds:       feeds,
		transcript:  transcript,
		attachments: attachments,
		audio:       audio,
		logger:      logger,
		state:       StateIdle,
	}
}

// Send runs one completion cycle: append the user turn and an empty
// assistant placeholder, stream the response, fold deltas into the
// placeholder. It blocks until the stream ends, is cancelled, or fails.
func (c *Controller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" && c.attachments.Len() == 0 {
		return ErrEmptyMessage
	}
	if c.attachments.HasPending() {
		return ErrAttachmentPending
	}

	cctx, err := c.begin(ctx)
	if err != nil {
		return err
	}

	atts := c.attachments.Take()
	c.appendMessage(types.Message{Role: types.RoleUser, Content: text, Attachments: atts})
	placeholderID := c.appendMessage(types.Message{Role: types.RoleAssistant})

	return c.streamCompletion(cctx, placeholderID)
}

// SendNews runs a news-summary cycle: fetch a digest of the feed behind
// feedKey and stream a summary of it. The visible user turn stays
// short; the full digest only reaches the model. A fetch failure aborts
// before any provider call and retracts the transient turns.
func (c *Controller) SendNews(ctx context.Context, feedKey string) error {
	cctx, err := c.begin(ctx)
	if err != nil {
		return err
	}

	userID := c.appendMessage(types.Message{
		Role:           types.RoleUser,
		DisplayContent: fmt.Sprintf("Summarize today's news from %s", feedKey),
	})
	placeholderID := c.appendMessage(types.Message{
		Role:           types.RoleAssistant,
		DisplayContent: noticeFetchingNews,
	})

	digest, err := c.feeds.TopArticlesText(cctx, feedKey)
	if err != nil {
		c.retract(placeholderID)
		c.retract(userID)
		return c.finish(fmt.Errorf("fetch news: %w", err))
	}

	content := promptNewsSummary + "\n\n" + digest
	clear := ""
	c.apply(userID, types.MessagePatch{Content: &content})
	c.apply(placeholderID, types.MessagePatch{DisplayContent: &clear})

	return c.streamCompletion(cctx, placeholderID)
}

// SendDocumentSummary runs a summary cycle over the text of a staged
// attachment. Like the news flow, the extracted text is injected into
// the model-facing content while the UI shows a short prompt.
func (c *Controller) SendDocumentSummary(ctx context.Context, attachmentID uuid.UUID) error {
	cctx, err := c.begin(ctx)
	if err != nil {
		return err
	}

	text, err := c.attachments.ExtractText(attachmentID)
	if err != nil {
		return c.finish(fmt.Errorf("extract document text: %w", err))
	}

	c.appendMessage(types.Message{
		Role:           types.RoleUser,
		Content:        promptDocumentSummary + "\n\n" + text,
		DisplayContent: "Summarize the attached document",
	})
	placeholderID := c.appendMessage(types.Message{Role: types.RoleAssistant})

	return c.streamCompletion(cctx, placeholderID)
}

// SendSpeech runs a text-to-speech cycle. It does not stream: one
// request yields one audio resource, written onto the placeholder.
func (c *Controller) SendSpeech(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	cctx, err := c.begin(ctx)
	if err != nil {
		return err
	}

	c.appendMessage(types.Message{
		Role:           types.RoleUser,
		Content:        text,
		DisplayContent: promptSpeech,
	})
	placeholderID := c.appendMessage(types.Message{Role: types.RoleAssistant})

	audio, contentType, err := c.ai.Synthesize(cctx, c.cfg.TTSModel, c.cfg.TTSVoice, text)
	if err != nil {
		return c.finish(err)
	}

	clipID := c.audio.Put(audio, contentType)
	c.apply(placeholderID, types.MessagePatch{AudioID: &clipID})
	return c.finish(nil)
}

// Transcribe runs a speech-to-text cycle. The transcribed text is
// written onto the assistant placeholder.
func (c *Controller) Transcribe(ctx context.Context, filename string, audio io.Reader) error {
	cctx, err := c.begin(ctx)
	if err != nil {
		return err
	}

	c.appendMessage(types.Message{Role: types.RoleUser, Content: promptTranscribe})
	placeholderID := c.appendMessage(types.Message{Role: types.RoleAssistant})

	text, err := c.ai.Transcribe(cctx, c.cfg.STTModel, c.cfg.STTLanguage, filename, audio)
	if err != nil {
		return c.finish(err)
	}

	c.apply(placeholderID, types.MessagePatch{Content: &text})
	return c.finish(nil)
}

// Cancel aborts the in-flight cycle, if any. The cycle resolves through
// the error path with the cancelled condition; partial content already
// streamed into the placeholder is preserved.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the current cycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error recorded by the most recent cycle, nil after a
// success. It is cleared at the start of every new cycle.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ErrorMessage renders the error slot for the UI: empty when clear, the
// cancellation notice after a cancel, the provider's message otherwise.
func (c *Controller) ErrorMessage() string {
	return renderError(c.Err())
}

// Transcript returns the transcript store.
func (c *Controller) Transcript() *Transcript {
	return c.transcript
}

// Attachments returns the attachment store.
func (c *Controller) Attachments() *AttachmentStore {
	return c.attachments
}

// Audio returns the synthesized-audio store.
func (c *Controller) Audio() *AudioStore {
	return c.audio
}

// Subscribe registers a transcript event listener. The returned cancel
// function must be called when the listener goes away.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// begin enforces the single-flight guard and opens a new cycle: state
// transitions to Sending, the error slot is cleared, and a fresh
// cancellation token is installed.
func (c *Controller) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, ErrBusy
	}
	c.state = StateSending
	c.lastErr = nil
	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return cctx, nil
}

// finish closes the active cycle: the state returns to Idle, the token
// reference is cleared, and the outcome lands in the error slot. The
// terminal event is published before finish returns, so a subscriber
// that observed the cycle start is guaranteed to observe its end.
func (c *Controller) finish(err error) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateIdle

	var result error
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		result = ErrCancelled
	default:
		result = err
	}
	c.lastErr = result
	c.mu.Unlock()

	switch {
	case result == nil:
		c.events.publish(Event{Type: EventDone})
	case errors.Is(result, ErrCancelled):
		c.events.publish(Event{Type: EventCancelled, Error: renderError(result)})
	default:
		c.events.publish(Event{Type: EventError, Error: renderError(result)})
	}
	return result
}

// streamCompletion issues the completion request for the current
// transcript and folds the response stream into the placeholder.
func (c *Controller) streamCompletion(ctx context.Context, placeholderID uuid.UUID) error {
	frame := c.buildFrame()

	stream, err := c.ai.StreamResponses(ctx, c.cfg.ChatModel, frame)
	if err != nil {
		return c.finish(err)
	}
	defer stream.Close()

	c.setState(StateStreaming)

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return c.finish(nil)
		}
		if err != nil {
			return c.finish(err)
		}
		if err := c.transcript.AppendDelta(placeholderID, delta); err != nil {
			c.logger.WithError(err).WithField("message_id", placeholderID).Warn("dropping stream delta")
			continue
		}
		c.events.publish(Event{Type: EventDelta, MessageID: placeholderID, Delta: delta})
	}
}

// buildFrame serializes the transcript into the outbound request frame:
// system and user turns only, in conversation order, with one file
// block per resolved attachment on user turns.
func (c *Controller) buildFrame() []openai.InputMessage {
	msgs := c.transcript.Messages()
	frame := make([]openai.InputMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role != types.RoleSystem && msg.Role != types.RoleUser {
			continue
		}
		content := []openai.ContentBlock{openai.TextBlock(msg.Content)}
		if msg.Role == types.RoleUser {
			for _, att := range msg.Attachments {
				if att.FileID != "" {
					content = append(content, openai.FileBlock(att.FileID))
				}
			}
		}
		frame = append(frame, openai.InputMessage{Role: string(msg.Role), Content: content})
	}
	return frame
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) appendMessage(msg types.Message) uuid.UUID {
	id := c.transcript.Append(msg)
	if stored, ok := c.transcript.Get(id); ok {
		view := stored.ForDisplay()
		c.events.publish(Event{Type: EventMessage, MessageID: id, Message: &view})
	}
	return id
}

func (c *Controller) apply(id uuid.UUID, patch types.MessagePatch) {
	if err := c.transcript.Apply(id, patch); err != nil {
		c.logger.WithError(err).Warn("failed to patch message")
		return
	}
	if stored, ok := c.transcript.Get(id); ok {
		view := stored.ForDisplay()
		c.events.publish(Event{Type: EventUpdated, MessageID: id, Message: &view})
	}
}

func (c *Controller) retract(id uuid.UUID) {
	if err := c.transcript.Retract(id); err != nil {
		c.logger.WithError(err).Warn("failed to retract message")
		return
	}
	c.events.publish(Event{Type: EventRetracted, MessageID: id})
}

// renderError maps an error to its user-visible form.
func renderError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCancelled) {
		return ErrCancelled.Error()
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
