package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"scribebridge/db"
)

type fakeReader struct {
	session     db.Session
	transcripts []db.Transcript
}

func (f *fakeReader) FindSession(_ context.Context, id string) (db.Session, error) {
	if id != f.session.ID {
		return db.Session{}, db.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeReader) SessionTranscripts(_ context.Context, _ string) ([]db.Transcript, error) {
	return f.transcripts, nil
}

func TestHandleTranscript(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	reader := &fakeReader{
		session: db.Session{ID: "s1", Owner: "local", StartedAt: now},
		transcripts: []db.Transcript{
			{ID: "t1", SessionID: "s1", Text: "Hello there", Speaker: "A", IsFinal: true, CreatedAt: now},
			{ID: "t2", SessionID: "s1", Text: "partial words", Speaker: "A", IsFinal: false, CreatedAt: now},
			{ID: "t3", SessionID: "s1", Text: "Hi doctor", Speaker: "B", IsFinal: true, CreatedAt: now},
		},
	}

	r := chi.NewRouter()
	r.Get("/sessions/{sessionID}/transcript", NewHandler(reader, log.New(io.Discard)).HandleTranscript)
	server := httptest.NewServer(r)
	defer server.Close()

	resp, err := http.Get(server.URL + "/sessions/s1/transcript")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := string(body)
	if !strings.Contains(page, "Hello there") || !strings.Contains(page, "Hi doctor") {
		t.Error("final transcripts missing from page")
	}
	if strings.Contains(page, "partial words") {
		t.Error("interim transcript rendered")
	}

	resp2, err := http.Get(server.URL + "/sessions/unknown/transcript")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp2.StatusCode)
	}
}
