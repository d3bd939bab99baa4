package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeLive struct {
	mu     sync.Mutex
	closes int
}

func (f *fakeLive) ID() string         { return "fake" }
func (f *fakeLive) SendAudio(_ []byte) {}
func (f *fakeLive) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
}

func TestCountAudio(t *testing.T) {
	s := New("s1", time.Now())
	s.CountAudio(1000)
	if s.AudioBytesReceived != 1000 {
		t.Errorf("bytes = %d, want 1000", s.AudioBytesReceived)
	}
	if s.AudioChunksReceived != 1 {
		t.Errorf("chunks = %d, want 1", s.AudioChunksReceived)
	}
}

func TestCloseUpstreamIsIdempotent(t *testing.T) {
	live := &fakeLive{}
	s := New("s1", time.Now())
	s.Upstream = live

	s.CloseUpstream()
	s.CloseUpstream()
	s.CloseUpstream()

	if live.closes != 1 {
		t.Errorf("upstream closed %d times, want 1", live.closes)
	}
}

func TestCloseUpstreamWithoutUpstream(t *testing.T) {
	s := New("s1", time.Now())
	s.CloseUpstream() // must not panic
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			s := New(id, time.Now())
			r.Put(id, s)
			got, ok := r.Get(id)
			if !ok || got != s {
				t.Errorf("lookup of %s failed", id)
			}
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("registry size = %d, want 25", r.Len())
	}
	if _, ok := r.Get("session-2"); ok {
		t.Error("removed session still present")
	}
	if _, ok := r.Get("session-1"); !ok {
		t.Error("kept session missing")
	}
}
