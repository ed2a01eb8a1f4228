package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vietchat/chat-backend/internal/chat"
)

// UploadAttachment handles POST /chat/files: it stages a file and
// uploads it to the provider, returning the resolved attachment.
func (s *Server) UploadAttachment(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read file"})
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot read file"})
	}

	mimeType := fileHeader.Header.Get(echo.HeaderContentType)
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(fileHeader.Filename))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	att, err := s.controller.Attachments().Add(c.Request().Context(), fileHeader.Filename, mimeType, content)
	if err != nil {
		s.logger.WithError(err).Error("failed to upload attachment")
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusCreated, att)
}

// DeleteAttachment handles DELETE /chat/files/:id.
func (s *Server) DeleteAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid attachment id"})
	}

	if err := s.controller.Attachments().Remove(c.Request().Context(), id); err != nil {
		if errors.Is(err, chat.ErrAttachmentNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "attachment not found"})
		}
		s.logger.WithError(err).Error("failed to delete attachment")
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ListAttachments handles GET /chat/files.
func (s *Server) ListAttachments(c echo.Context) error {
	return c.JSON(http.StatusOK, s.controller.Attachments().List())
}
