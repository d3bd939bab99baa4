// Package session holds the in-memory state for live connections and the
// registry that tracks which sessions are currently active.
package session

import (
	"sync"
	"time"

	"scribebridge/speaker"
	"scribebridge/stt"
)

// State is the record for one live connection. Everything in it except the
// registry handle is owned by that connection's goroutines; counters and
// attribution state have exactly one writer at a time.
type State struct {
	ID        string
	StartedAt time.Time

	AudioBytesReceived  int64
	AudioChunksReceived int64

	// UpstreamEnabled is false when the streaming provider could not be
	// initialized. The connection stays open and keeps counting audio,
	// it just produces no transcripts.
	UpstreamEnabled bool
	Upstream        stt.LiveSession

	Attribution speaker.State

	closeOnce sync.Once
}

func New(id string, now time.Time) *State {
	return &State{
		ID:          id,
		StartedAt:   now,
		Attribution: speaker.NewState(),
	}
}

// CountAudio records one inbound audio frame.
func (s *State) CountAudio(n int) {
	s.AudioBytesReceived += int64(n)
	s.AudioChunksReceived++
}

// CloseUpstream closes the provider stream exactly once. Safe to call on a
// session whose upstream never opened.
func (s *State) CloseUpstream() {
	s.closeOnce.Do(func() {
		if s.Upstream != nil {
			s.Upstream.Close()
		}
	})
}

// Registry maps session id to live state. It is safe for concurrent use by
// independent connections; same-key operations are only ever issued by the
// one connection that owns the key.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*State)}
}

func (r *Registry) Put(id string, s *State) {
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*State, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
