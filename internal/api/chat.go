package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vietchat/chat-backend/internal/chat"
	"github.com/vietchat/chat-backend/internal/types"
)

// SendMessageRequest is the request body for sending a chat message.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// NewsRequest is the request body for a news-summary cycle.
type NewsRequest struct {
	Feed string `json:"feed"`
}

// TranscriptResponse is the response for the transcript endpoint.
type TranscriptResponse struct {
	Messages []types.Message `json:"messages"`
	State    chat.State      `json:"state"`
	Error    string          `json:"error,omitempty"`
}

// GetTranscript returns the transcript as the UI renders it.
func (s *Server) GetTranscript(c echo.Context) error {
	msgs := s.controller.Transcript().Messages()
	view := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		view = append(view, m.ForDisplay())
	}
	return c.JSON(http.StatusOK, TranscriptResponse{
		Messages: view,
		State:    s.controller.State(),
		Error:    s.controller.ErrorMessage(),
	})
}

// SendMessage handles POST /chat/messages: it runs a completion cycle
// and relays transcript events to the browser as SSE.
func (s *Server) SendMessage(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	return s.relayCycle(c, func(ctx context.Context) error {
		return s.controller.Send(ctx, req.Content)
	})
}

// SendNews handles POST /chat/news.
func (s *Server) SendNews(c echo.Context) error {
	var req NewsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	return s.relayCycle(c, func(ctx context.Context) error {
		return s.controller.SendNews(ctx, req.Feed)
	})
}

// SummarizeDocument handles POST /chat/documents/:id/summary.
func (s *Server) SummarizeDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid attachment id"})
	}

	return s.relayCycle(c, func(ctx context.Context) error {
		return s.controller.SendDocumentSummary(ctx, id)
	})
}

// Cancel aborts the in-flight cycle, if any.
func (s *Server) Cancel(c echo.Context) error {
	s.controller.Cancel()
	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// relayCycle runs one controller cycle in the background and streams
// its transcript events to the client. Guard rejections (busy, empty,
// pending attachment) happen before any event is published and are
// answered as plain JSON errors instead.
func (s *Server) relayCycle(c echo.Context, run func(ctx context.Context) error) error {
	sub, unsub := s.controller.Subscribe()
	defer unsub()

	errCh := make(chan error, 1)
	go func() { errCh <- run(c.Request().Context()) }()

	var sse *sseStream
	for {
		select {
		case err := <-errCh:
			errCh = nil
			if status, ok := guardStatus(err); ok {
				return c.JSON(status, ErrorResponse{Error: err.Error()})
			}
			// The terminal event was published before the cycle
			// returned; keep draining the subscription.
		case evt := <-sub:
			if sse == nil {
				sse = newSSEStream(c.Response())
			}
			if err := sse.send(evt); err != nil {
				return err
			}
			switch evt.Type {
			case chat.EventDone, chat.EventCancelled, chat.EventError:
				return nil
			}
		}
	}
}

func guardStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict, true
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrAttachmentPending):
		return http.StatusBadRequest, true
	}
	return 0, false
}

// sseStream writes transcript events as server-sent events.
type sseStream struct {
	resp *echo.Response
}

func newSSEStream(resp *echo.Response) *sseStream {
	h := resp.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	return &sseStream{resp: resp}
}

func (s *sseStream) send(evt chat.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.resp, "event: %s\ndata: %s\n\n", evt.Type, body); err != nil {
		return err
	}
	s.resp.Flush()
	return nil
}
