package tracker

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	"github.com/Code-6dof/DXX-Dashboard/internal/gamelog"
)

// maxStreamEvents bounds the per-uploader event list so a chatty
// uploader cannot grow memory without limit.
const maxStreamEvents = 2000

// Stream is one player's textual gamelog stream: bound identity,
// parsed events with "You"/"Yourself" already rewritten, the raw tail
// of the upload, and last-update time.
type Stream struct {
	Identity    string             `json:"identity"`
	Provisional bool               `json:"provisional,omitempty"`
	Events      []domain.GameEvent `json:"events"`
	Summary     gamelog.Summary    `json:"summary"`
	RawTail     string             `json:"-"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Uploads holds every textual stream: HTTP uploaders plus the local
// gamelog watcher.
type Uploads struct {
	mu      sync.RWMutex
	streams map[string]*Stream // keyed by lowercased identity
}

// NewUploads creates an empty upload store.
func NewUploads() *Uploads {
	return &Uploads{streams: make(map[string]*Stream)}
}

// Replace installs a full new stream for the player, discarding any
// prior events. Invalid UTF-8 is a parse error and commits nothing.
func (u *Uploads) Replace(name, content string) (*Stream, error) {
	if !utf8.ValidString(content) {
		return nil, fmt.Errorf("gamelog for %q is not valid UTF-8", name)
	}
	res := gamelog.Parse([]byte(content), name)

	u.mu.Lock()
	defer u.mu.Unlock()
	s := &Stream{
		Identity:  name,
		Events:    res.Events,
		Summary:   res.Summary,
		UpdatedAt: time.Now().UTC(),
	}
	s.trim()
	u.streams[strings.ToLower(name)] = s
	return s, nil
}

// Append parses the tail content onto the player's stream. A line
// split across uploads is buffered in RawTail until its newline
// arrives. Returns the number of new events and the stream total.
func (u *Uploads) Append(name, content string) (newEvents, total int, err error) {
	if !utf8.ValidString(content) {
		return 0, 0, fmt.Errorf("gamelog for %q is not valid UTF-8", name)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	key := strings.ToLower(name)
	s, ok := u.streams[key]
	if !ok {
		s = &Stream{Identity: name, Summary: gamelog.NewSummary(name)}
		u.streams[key] = s
	}

	text := s.RawTail + content
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 {
		s.RawTail = text
		s.UpdatedAt = time.Now().UTC()
		return 0, len(s.Events), nil
	}
	complete, rest := text[:idx+1], text[idx+1:]
	s.RawTail = rest

	res := gamelog.Parse([]byte(complete), name)
	for _, e := range res.Events {
		s.Events = append(s.Events, e)
		s.Summary.Apply(e)
	}
	s.trim()
	s.UpdatedAt = time.Now().UTC()
	return len(res.Events), len(s.Events), nil
}

// Reset discards the player's stream; the local watcher calls this
// when the gamelog file shrinks (a new match started).
func (u *Uploads) Reset(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.streams, strings.ToLower(name))
}

// Streams returns copies of every stream.
func (u *Uploads) Streams() []Stream {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]Stream, 0, len(u.streams))
	for _, s := range u.streams {
		cp := *s
		cp.Events = append([]domain.GameEvent(nil), s.Events...)
		out = append(out, cp)
	}
	return out
}

// Count returns the number of uploading clients.
func (u *Uploads) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.streams)
}

func (s *Stream) trim() {
	if len(s.Events) > maxStreamEvents {
		s.Events = append([]domain.GameEvent(nil), s.Events[len(s.Events)-maxStreamEvents:]...)
	}
}
