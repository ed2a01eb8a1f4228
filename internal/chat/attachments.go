package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vietchat/chat-backend/internal/types"
)

// ErrAttachmentNotFound is returned when an attachment ID does not
// match any staged attachment.
var ErrAttachmentNotFound = errors.New("attachment not found")

// FileService is the provider file API consumed by the attachment store.
type FileService interface {
	UploadFile(ctx context.Context, filename string, content io.Reader) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
}

type stagedAttachment struct {
	meta types.Attachment
	// preview is the local copy of the file, kept while the attachment
	// is staged so document text can be extracted without a round trip.
	// Released when the attachment is removed or taken into a turn.
	preview []byte
}

// AttachmentStore tracks files the user has attached but not yet sent.
// An attachment is Pending from staging until the provider upload
// resolves; pending attachments block sending.
type AttachmentStore struct {
	files  FileService
	logger *logrus.Logger

	mu     sync.Mutex
	order  []uuid.UUID
	staged map[uuid.UUID]*stagedAttachment
}

// NewAttachmentStore creates an empty attachment store.
func NewAttachmentStore(files FileService, logger *logrus.Logger) *AttachmentStore {
	return &AttachmentStore{
		files:  files,
		logger: logger,
		staged: make(map[uuid.UUID]*stagedAttachment),
	}
}

// Add stages a file and uploads it to the provider. The attachment is
// visible as pending for the duration of the upload; on upload failure
// it is withdrawn, mirroring a failed attach in the UI.
func (s *AttachmentStore) Add(ctx context.Context, name, mimeType string, content []byte) (types.Attachment, error) {
	att := types.Attachment{
		ID:       uuid.New(),
		Name:     name,
		Size:     int64(len(content)),
		MIMEType: mimeType,
		Pending:  true,
	}

	s.mu.Lock()
	s.staged[att.ID] = &stagedAttachment{meta: att, preview: content}
	s.order = append(s.order, att.ID)
	s.mu.Unlock()

	fileID, err := s.files.UploadFile(ctx, name, bytes.NewReader(content))

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.staged[att.ID]
	if !ok {
		// Removed while uploading; nothing references the file id.
		if err == nil {
			if delErr := s.files.DeleteFile(context.WithoutCancel(ctx), fileID); delErr != nil {
				s.logger.WithError(delErr).Warn("failed to delete orphaned upload")
			}
		}
		return types.Attachment{}, fmt.Errorf("attachment removed during upload")
	}
	if err != nil {
		s.removeLocked(att.ID)
		return types.Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}

	entry.meta.FileID = fileID
	entry.meta.Pending = false
	return entry.meta, nil
}

// Remove deletes a staged attachment, removing the provider file when
// the upload had resolved and releasing the local preview.
func (s *AttachmentStore) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	entry, ok := s.staged[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("attachment %s: %w", id, ErrAttachmentNotFound)
	}
	fileID := entry.meta.FileID
	s.removeLocked(id)
	s.mu.Unlock()

	if fileID != "" {
		if err := s.files.DeleteFile(ctx, fileID); err != nil {
			return fmt.Errorf("delete remote file: %w", err)
		}
	}
	return nil
}

func (s *AttachmentStore) removeLocked(id uuid.UUID) {
	if entry, ok := s.staged[id]; ok {
		entry.preview = nil
	}
	delete(s.staged, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// List returns the staged attachments in attach order.
func (s *AttachmentStore) List() []types.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Attachment, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.staged[id].meta)
	}
	return out
}

// Len returns the number of staged attachments.
func (s *AttachmentStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// HasPending reports whether any staged attachment is still uploading.
func (s *AttachmentStore) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.staged {
		if entry.meta.Pending {
			return true
		}
	}
	return false
}

// Take drains the staged attachments into a user turn, releasing the
// local previews. All attachments must be resolved; the controller
// checks HasPending before calling.
func (s *AttachmentStore) Take() []types.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Attachment, 0, len(s.order))
	for _, id := range s.order {
		entry := s.staged[id]
		out = append(out, entry.meta)
		entry.preview = nil
		delete(s.staged, id)
	}
	s.order = nil
	return out
}

// ExtractText returns the textual content of a staged attachment.
// Only text formats can be extracted locally; other formats reach the
// model through the provider file reference instead.
func (s *AttachmentStore) ExtractText(id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.staged[id]
	if !ok {
		return "", fmt.Errorf("attachment %s: %w", id, ErrAttachmentNotFound)
	}
	mimeType := entry.meta.MIMEType
	if mimeType != "application/json" && !strings.HasPrefix(mimeType, "text/") {
		return "", fmt.Errorf("cannot extract text from %q", mimeType)
	}
	return strings.TrimSpace(string(entry.preview)), nil
}
