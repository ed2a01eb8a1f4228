package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietchat/chat-backend/internal/ai/openai"
	"github.com/vietchat/chat-backend/internal/feed"
	"github.com/vietchat/chat-backend/internal/types"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type controllerFixture struct {
	controller *Controller
	transcript *Transcript
	files      *fakeFileService
}

func newFixture(t *testing.T, providerURL, bridgeURL string) *controllerFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := openai.NewClient("test-key", providerURL, logger)
	feeds, err := feed.NewSource(bridgeURL, "", 5)
	require.NoError(t, err)

	files := &fakeFileService{}
	transcript := NewTranscript("You are a helpful assistant.")
	controller := NewController(
		Config{
			ChatModel:   "gpt-5",
			TTSModel:    "gpt-4o-mini-tts",
			TTSVoice:    "alloy",
			STTModel:    "whisper-1",
			STTLanguage: "vi",
		},
		client, feeds, transcript,
		NewAttachmentStore(files, logger),
		NewAudioStore(),
		logger,
	)
	return &controllerFixture{controller: controller, transcript: transcript, files: files}
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func writeDelta(w http.ResponseWriter, delta string) {
	payload, _ := json.Marshal(map[string]string{"type": "response.output_text.delta", "delta": delta})
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeDeltas(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		writeDelta(w, d)
	}
	io.WriteString(w, "data: [DONE]\n\n")
}

type capturedFrame struct {
	Model string                `json:"model"`
	Input []openai.InputMessage `json:"input"`
}

func TestSendStreamsCompletionIntoPlaceholder(t *testing.T) {
	var frame capturedFrame
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&frame))
		writeDeltas(w, "Hi", " there", "!")
	})
	fx := newFixture(t, provider.URL, "http://unused")

	require.NoError(t, fx.controller.Send(context.Background(), "Hello"))

	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Hi there!", msgs[2].Content)

	assert.Equal(t, StateIdle, fx.controller.State())
	assert.NoError(t, fx.controller.Err())
	assert.Empty(t, fx.controller.ErrorMessage())

	// only system and user turns reach the provider
	assert.Equal(t, "gpt-5", frame.Model)
	require.Len(t, frame.Input, 2)
	assert.Equal(t, "system", frame.Input[0].Role)
	assert.Equal(t, "user", frame.Input[1].Role)
	assert.Equal(t, "Hello", frame.Input[1].Content[0].Text)
}

func TestSendProviderErrorKeepsPlaceholderEmpty(t *testing.T) {
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"overloaded"}}`)
	})
	fx := newFixture(t, provider.URL, "http://unused")

	err := fx.controller.Send(context.Background(), "Hello")
	require.Error(t, err)

	assert.Equal(t, StateIdle, fx.controller.State())
	assert.Equal(t, "overloaded", fx.controller.ErrorMessage())

	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.Empty(t, msgs[2].Content)
}

func TestSendEmptyMessageIsNoOp(t *testing.T) {
	fx := newFixture(t, "http://unused", "http://unused")

	err := fx.controller.Send(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 1, fx.transcript.Len())
	assert.Equal(t, StateIdle, fx.controller.State())
}

func TestSendWhileBusyIsRejected(t *testing.T) {
	release := make(chan struct{})
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeDelta(w, "Hi")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
		io.WriteString(w, "data: [DONE]\n\n")
	})
	fx := newFixture(t, provider.URL, "http://unused")

	done := make(chan error, 1)
	go func() { done <- fx.controller.Send(context.Background(), "Hello") }()

	require.Eventually(t, func() bool {
		return fx.controller.State() == StateStreaming
	}, waitFor, tick)

	err := fx.controller.Send(context.Background(), "second message")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 3, fx.transcript.Len())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, fx.controller.State())
}

func TestCancelMidStreamPreservesPartialContent(t *testing.T) {
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeDelta(w, "partial answer")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	fx := newFixture(t, provider.URL, "http://unused")

	done := make(chan error, 1)
	go func() { done <- fx.controller.Send(context.Background(), "Hello") }()

	require.Eventually(t, func() bool {
		msgs := fx.transcript.Messages()
		return len(msgs) == 3 && msgs[2].Content == "partial answer"
	}, waitFor, tick)

	fx.controller.Cancel()
	err := <-done
	assert.ErrorIs(t, err, ErrCancelled)

	assert.Equal(t, StateIdle, fx.controller.State())
	assert.Equal(t, "query cancelled", fx.controller.ErrorMessage())
	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "partial answer", msgs[2].Content)
}

func TestErrorSlotClearedByNextCycle(t *testing.T) {
	var failNext atomic.Bool
	failNext.Store(true)
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if failNext.Swap(false) {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		writeDeltas(w, "fine now")
	})
	fx := newFixture(t, provider.URL, "http://unused")

	require.Error(t, fx.controller.Send(context.Background(), "first"))
	assert.Equal(t, "overloaded", fx.controller.ErrorMessage())

	require.NoError(t, fx.controller.Send(context.Background(), "second"))
	assert.NoError(t, fx.controller.Err())
	assert.Empty(t, fx.controller.ErrorMessage())
}

func TestSendNewsInjectsDigest(t *testing.T) {
	bridge := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"items": []feed.Item{
				{Title: "Big story", Description: "What happened", Link: "https://example.com/1"},
			},
		})
	})
	var frame capturedFrame
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&frame))
		writeDeltas(w, "Summary.")
	})
	fx := newFixture(t, provider.URL, bridge.URL)

	require.NoError(t, fx.controller.SendNews(context.Background(), "vnexpress"))

	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)

	user := msgs[1]
	assert.Equal(t, "Summarize today's news from vnexpress", user.DisplayContent)
	assert.Contains(t, user.Content, "Summarize the following news articles")
	assert.Contains(t, user.Content, "1. Big story")

	assistant := msgs[2]
	assert.Equal(t, "Summary.", assistant.Content)
	assert.Empty(t, assistant.DisplayContent)

	// the digest reaches the model, the short display text does not
	require.Len(t, frame.Input, 2)
	assert.Contains(t, frame.Input[1].Content[0].Text, "Big story")
}

func TestSendNewsFetchFailureRetractsTurns(t *testing.T) {
	bridge := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	fx := newFixture(t, "http://unused", bridge.URL)

	err := fx.controller.SendNews(context.Background(), "vnexpress")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCancelled)

	assert.Equal(t, 1, fx.transcript.Len())
	assert.Equal(t, StateIdle, fx.controller.State())
	assert.Contains(t, fx.controller.ErrorMessage(), "feed fetch failed")
}

func TestSendNewsCancelDuringFetch(t *testing.T) {
	bridge := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	fx := newFixture(t, "http://unused", bridge.URL)

	done := make(chan error, 1)
	go func() { done <- fx.controller.SendNews(context.Background(), "vnexpress") }()

	// the fetching notice is visible while the bridge call is in flight
	require.Eventually(t, func() bool { return fx.transcript.Len() == 3 }, waitFor, tick)

	fx.controller.Cancel()
	err := <-done
	assert.ErrorIs(t, err, ErrCancelled)

	// both transient turns are withdrawn, the notice does not linger
	assert.Equal(t, 1, fx.transcript.Len())
	for _, msg := range fx.transcript.Messages() {
		assert.NotEqual(t, noticeFetchingNews, msg.DisplayContent)
	}
	assert.Equal(t, "query cancelled", fx.controller.ErrorMessage())
}

func TestSendBlockedByPendingAttachment(t *testing.T) {
	fx := newFixture(t, "http://unused", "http://unused")
	fx.files.gate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.controller.Attachments().Add(context.Background(), "slow.txt", "text/plain", []byte("x"))
	}()

	require.Eventually(t, fx.controller.Attachments().HasPending, waitFor, tick)

	err := fx.controller.Send(context.Background(), "with attachment")
	assert.ErrorIs(t, err, ErrAttachmentPending)
	assert.Equal(t, 1, fx.transcript.Len())
	assert.Equal(t, StateIdle, fx.controller.State())

	close(fx.files.gate)
	<-done
}

func TestSendAttachesResolvedFiles(t *testing.T) {
	var frame capturedFrame
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&frame))
		writeDeltas(w, "Got the file.")
	})
	fx := newFixture(t, provider.URL, "http://unused")

	_, err := fx.controller.Attachments().Add(context.Background(), "report.txt", "text/plain", []byte("contents"))
	require.NoError(t, err)

	require.NoError(t, fx.controller.Send(context.Background(), "Please review"))

	// attachments drain into the user turn
	assert.Equal(t, 0, fx.controller.Attachments().Len())
	msgs := fx.transcript.Messages()
	require.Len(t, msgs[1].Attachments, 1)
	assert.Equal(t, "file-1", msgs[1].Attachments[0].FileID)

	require.Len(t, frame.Input, 2)
	blocks := frame.Input[1].Content
	require.Len(t, blocks, 2)
	assert.Equal(t, "input_file", blocks[1].Type)
	assert.Equal(t, "file-1", blocks[1].FileID)
}

func TestSendDocumentSummary(t *testing.T) {
	var frame capturedFrame
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&frame))
		writeDeltas(w, "The document says hello.")
	})
	fx := newFixture(t, provider.URL, "http://unused")

	att, err := fx.controller.Attachments().Add(context.Background(), "doc.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, fx.controller.SendDocumentSummary(context.Background(), att.ID))

	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Summarize the attached document", msgs[1].DisplayContent)
	assert.Contains(t, msgs[1].Content, "hello world")
	assert.Equal(t, "The document says hello.", msgs[2].Content)
}

func TestSendDocumentSummaryUnsupportedFormat(t *testing.T) {
	fx := newFixture(t, "http://unused", "http://unused")

	att, err := fx.controller.Attachments().Add(context.Background(), "doc.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	err = fx.controller.SendDocumentSummary(context.Background(), att.ID)
	require.Error(t, err)
	assert.Equal(t, StateIdle, fx.controller.State())
	assert.Equal(t, 1, fx.transcript.Len())
}

func TestSendSpeechStoresAudioClip(t *testing.T) {
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	})
	fx := newFixture(t, provider.URL, "http://unused")

	require.NoError(t, fx.controller.SendSpeech(context.Background(), "hello out loud"))

	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Read this text aloud", msgs[1].DisplayContent)
	assert.Equal(t, "hello out loud", msgs[1].Content)

	require.NotNil(t, msgs[2].AudioID)
	clip, ok := fx.controller.Audio().Get(*msgs[2].AudioID)
	require.True(t, ok)
	assert.Equal(t, []byte("mp3-bytes"), clip.Data)
	assert.Equal(t, "audio/mpeg", clip.ContentType)
	assert.Equal(t, StateIdle, fx.controller.State())
}

func TestSendSpeechEmptyText(t *testing.T) {
	fx := newFixture(t, "http://unused", "http://unused")
	err := fx.controller.SendSpeech(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 1, fx.transcript.Len())
}

func TestTranscribeWritesTextOntoPlaceholder(t *testing.T) {
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	})
	fx := newFixture(t, provider.URL, "http://unused")

	require.NoError(t, fx.controller.Transcribe(context.Background(), "rec.webm", strings.NewReader("audio")))

	msgs := fx.transcript.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Transcribe the audio recording", msgs[1].Content)
	assert.Equal(t, "hello world", msgs[2].Content)
	assert.Equal(t, StateIdle, fx.controller.State())
}

func TestSubscribeObservesFullCycle(t *testing.T) {
	provider := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeDeltas(w, "Hi", " there")
	})
	fx := newFixture(t, provider.URL, "http://unused")

	events, cancel := fx.controller.Subscribe()
	defer cancel()

	require.NoError(t, fx.controller.Send(context.Background(), "Hello"))

	var got []EventType
	var deltas string
	for evt := range events {
		got = append(got, evt.Type)
		if evt.Type == EventDelta {
			deltas += evt.Delta
		}
		if evt.Type == EventDone || evt.Type == EventError || evt.Type == EventCancelled {
			break
		}
	}

	assert.Equal(t, []EventType{
		EventMessage, EventMessage, EventDelta, EventDelta, EventDone,
	}, got)
	assert.Equal(t, "Hi there", deltas)
}
