package stt

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

type recordedTurn struct {
	Text      string
	EndOfTurn bool
	Speaker   string
}

type recordingHandler struct {
	opened chan string
	turns  chan recordedTurn
	errs   chan string
	closed chan int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened: make(chan string, 1),
		turns:  make(chan recordedTurn, 16),
		errs:   make(chan string, 16),
		closed: make(chan int, 1),
	}
}

func (h *recordingHandler) Opened(id string, _ time.Time) { h.opened <- id }
func (h *recordingHandler) Turn(text string, end bool, speaker string) {
	h.turns <- recordedTurn{text, end, speaker}
}
func (h *recordingHandler) TranscriptError(msg string) { h.errs <- msg }
func (h *recordingHandler) Closed(code int, _ string)  { h.closed <- code }

// scriptedProvider is a fake realtime endpoint: it acknowledges the stream,
// answers the first audio frame with an interim and a final turn, and
// terminates.
func scriptedProvider(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sample_rate") != "16000" {
			t.Errorf("sample_rate = %q", r.URL.Query().Get("sample_rate"))
		}
		if r.Header.Get("Authorization") != "rt-key" {
			t.Error("missing Authorization header")
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]any{
			"type": "Begin", "id": "rt-1",
			"expires_at": float64(time.Now().Add(time.Hour).Unix()),
		})

		mt, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			t.Errorf("expected binary audio frame, got type %d", mt)
		}

		conn.WriteJSON(map[string]any{
			"type": "Turn", "transcript": "hello", "end_of_turn": false,
		})
		conn.WriteJSON(map[string]any{
			"type": "Turn", "transcript": "hello there", "end_of_turn": true,
		})
		conn.WriteJSON(map[string]any{"type": "Termination"})
	}))
}

func TestRealtimeSession(t *testing.T) {
	server := scriptedProvider(t)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewRealtimeClient("rt-key", wsURL, log.New(io.Discard))
	handler := newRecordingHandler()

	live, err := client.Start(context.Background(), handler)
	if err != nil {
		t.Fatal(err)
	}
	defer live.Close()

	select {
	case id := <-handler.opened:
		if id != "rt-1" {
			t.Errorf("session id = %q, want rt-1", id)
		}
	default:
		t.Fatal("Opened did not fire before Start returned")
	}
	if live.ID() != "rt-1" {
		t.Errorf("live.ID() = %q", live.ID())
	}

	live.SendAudio([]byte{0, 1, 2, 3})

	interim := <-handler.turns
	if interim.Text != "hello" || interim.EndOfTurn {
		t.Errorf("interim = %+v", interim)
	}
	final := <-handler.turns
	if final.Text != "hello there" || !final.EndOfTurn {
		t.Errorf("final = %+v", final)
	}

	select {
	case code := <-handler.closed:
		if code != websocket.CloseNormalClosure {
			t.Errorf("close code = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Closed never fired")
	}

	// After the provider is gone these must be harmless no-ops.
	live.SendAudio([]byte{9})
	live.Close()
	live.Close()
}

func TestStartWithoutToken(t *testing.T) {
	client := NewRealtimeClient("", "", log.New(io.Discard))
	_, err := client.Start(context.Background(), newRecordingHandler())
	if err != ErrNoToken {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestStartRefusedConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewRealtimeClient("bad-key", wsURL, log.New(io.Discard))
	if _, err := client.Start(context.Background(), newRecordingHandler()); err == nil {
		t.Fatal("expected dial error")
	}
}
