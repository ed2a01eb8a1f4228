package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxClips bounds the in-memory audio store. The oldest clip is
// released when the bound is exceeded, so abandoned synthesized audio
// does not accumulate for the lifetime of the session.
const maxClips = 32

// AudioClip is one synthesized-speech payload held for playback.
type AudioClip struct {
	ID          uuid.UUID
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// AudioStore holds synthesized audio keyed by ID. It is the server-side
// analogue of a browser object URL: clips are exclusively owned until
// released.
type AudioStore struct {
	mu    sync.Mutex
	clips map[uuid.UUID]AudioClip
	order []uuid.UUID
}

// NewAudioStore creates an empty audio store.
func NewAudioStore() *AudioStore {
	return &AudioStore{clips: make(map[uuid.UUID]AudioClip)}
}

// Put stores an audio payload and returns its reference ID, evicting
// the oldest clip when the store is full.
func (s *AudioStore) Put(data []byte, contentType string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.clips[id] = AudioClip{
		ID:          id,
		ContentType: contentType,
		Data:        data,
		CreatedAt:   time.Now(),
	}
	s.order = append(s.order, id)

	for len(s.order) > maxClips {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.clips, oldest)
	}
	return id
}

// Get returns a stored clip.
func (s *AudioStore) Get(id uuid.UUID) (AudioClip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clip, ok := s.clips[id]
	return clip, ok
}

// Release frees a clip that is no longer referenced.
func (s *AudioStore) Release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clips, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of stored clips.
func (s *AudioStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}
