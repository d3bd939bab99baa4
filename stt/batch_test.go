package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestBatchTranscribe(t *testing.T) {
	var polls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-key" {
			t.Errorf("missing auth header on %s", r.URL.Path)
		}
		switch {
		case r.Method == "POST" && r.URL.Path == "/upload":
			body, _ := io.ReadAll(r.Body)
			if string(body) != "fake audio bytes" {
				t.Errorf("upload body = %q", body)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"upload_url": "https://cdn.example/abc",
			})
		case r.Method == "POST" && r.URL.Path == "/transcript":
			var req transcriptRequest
			json.NewDecoder(r.Body).Decode(&req)
			if !req.SpeakerLabels {
				t.Error("speaker_labels not requested")
			}
			if req.SpeakersExpected != 2 {
				t.Errorf("speakers_expected = %d, want 2", req.SpeakersExpected)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"id": "job-1", "status": "queued",
			})
		case r.Method == "GET" && r.URL.Path == "/transcript/job-1":
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(map[string]string{
					"id": "job-1", "status": "processing",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": "job-1", "status": "completed",
				"utterances": []map[string]string{
					{"text": "Hello there", "speaker": "A"},
					{"text": "Hi doctor", "speaker": "B"},
				},
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewBatchClient("test-key", log.New(io.Discard))
	client.BaseURL = server.URL
	client.PollInterval = 10 * time.Millisecond

	utterances, err := client.Transcribe(
		context.Background(), strings.NewReader("fake audio bytes"), 2,
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(utterances) != 2 {
		t.Fatalf("utterances = %d, want 2", len(utterances))
	}
	if utterances[0].Speaker != "A" || utterances[1].Speaker != "B" {
		t.Errorf("speakers = %q %q", utterances[0].Speaker, utterances[1].Speaker)
	}
	if polls.Load() < 3 {
		t.Errorf("polled %d times, want at least 3", polls.Load())
	}
}

func TestBatchTranscribeJobError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/upload":
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "u"})
		case r.Method == "POST" && r.URL.Path == "/transcript":
			json.NewEncoder(w).Encode(map[string]string{"id": "job-2", "status": "queued"})
		default:
			json.NewEncoder(w).Encode(map[string]string{
				"id": "job-2", "status": "error", "error": "audio too short",
			})
		}
	}))
	defer server.Close()

	client := NewBatchClient("k", log.New(io.Discard))
	client.BaseURL = server.URL
	client.PollInterval = 10 * time.Millisecond

	_, err := client.Transcribe(context.Background(), strings.NewReader("x"), 0)
	if err == nil || !strings.Contains(err.Error(), "audio too short") {
		t.Fatalf("err = %v, want job failure", err)
	}
}
