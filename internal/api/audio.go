package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vietchat/chat-backend/internal/chat"
	"github.com/vietchat/chat-backend/internal/types"
)

// SpeechRequest is the request body for a text-to-speech cycle.
type SpeechRequest struct {
	Text string `json:"text"`
}

// Speak handles POST /chat/speech: one synthesis request whose audio
// reference lands on the assistant placeholder.
func (s *Server) Speak(c echo.Context) error {
	var req SpeechRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	err := s.controller.SendSpeech(c.Request().Context(), req.Text)
	return s.respondCycle(c, err)
}

// TranscribeAudio handles POST /chat/transcriptions: one speech-to-text
// request whose transcript lands on the assistant placeholder.
func (s *Server) TranscribeAudio(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read file"})
	}
	defer f.Close()

	cycleErr := s.controller.Transcribe(c.Request().Context(), fileHeader.Filename, f)
	return s.respondCycle(c, cycleErr)
}

// GetAudio handles GET /chat/audio/:id, serving a synthesized clip.
func (s *Server) GetAudio(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid audio id"})
	}

	clip, ok := s.controller.Audio().Get(id)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "audio not found"})
	}
	return c.Blob(http.StatusOK, clip.ContentType, clip.Data)
}

// respondCycle answers a non-streaming cycle: the patched placeholder
// on success, the usual guard statuses otherwise.
func (s *Server) respondCycle(c echo.Context, err error) error {
	if status, ok := guardStatus(err); ok {
		return c.JSON(status, ErrorResponse{Error: err.Error()})
	}
	if errors.Is(err, chat.ErrCancelled) {
		return c.JSON(http.StatusOK, ErrorResponse{Error: s.controller.ErrorMessage()})
	}
	if err != nil {
		s.logger.WithError(err).Error("cycle failed")
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: s.controller.ErrorMessage()})
	}

	msgs := s.controller.Transcript().Messages()
	last := types.Message{}
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].ForDisplay()
	}
	return c.JSON(http.StatusOK, last)
}
