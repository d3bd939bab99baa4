package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	DefaultRealtimeURL = "wss://streaming.assemblyai.com/v3/ws"
	SampleRate         = 16000

	// How long we wait for the provider's session-begin message before
	// declaring the stream dead on arrival.
	beginTimeout = 10 * time.Second
)

// ErrNoToken means the provider API key is not configured. The bridge treats
// this as a degraded-mode signal, not a fatal one.
var ErrNoToken = errors.New("stt: no provider token configured")

// RealtimeClient opens live transcription streams.
type RealtimeClient struct {
	token  string
	url    string
	logger *log.Logger
}

func NewRealtimeClient(token, wsURL string, logger *log.Logger) *RealtimeClient {
	if wsURL == "" {
		wsURL = DefaultRealtimeURL
	}
	return &RealtimeClient{token: token, url: wsURL, logger: logger}
}

// Start dials the provider and blocks until it acknowledges the stream, so
// the caller has the provider session id in hand before any audio flows.
func (c *RealtimeClient) Start(ctx context.Context, h Handler) (LiveSession, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(SampleRate))
	q.Set("encoding", "pcm_s16le")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", c.token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial realtime provider: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(beginTimeout))
	var begin realtimeMessage
	if err := conn.ReadJSON(&begin); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read session begin: %w", err)
	}
	if begin.Type != "Begin" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", begin.Type)
	}
	conn.SetReadDeadline(time.Time{})

	s := &realtimeSession{
		id:     begin.ID,
		conn:   conn,
		logger: c.logger,
	}

	h.Opened(begin.ID, time.Unix(int64(begin.ExpiresAt), 0))
	go s.readLoop(h)

	return s, nil
}

// realtimeMessage is the envelope for everything the provider sends.
type realtimeMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	ExpiresAt  float64 `json:"expires_at"`
	Transcript string  `json:"transcript"`
	EndOfTurn  bool    `json:"end_of_turn"`
	Speaker    string  `json:"speaker,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type terminateMessage struct {
	Type string `json:"type"`
}

type realtimeSession struct {
	id     string
	conn   *websocket.Conn
	logger *log.Logger

	mu     sync.Mutex
	closed bool

	closeOnce  sync.Once
	notifyOnce sync.Once
}

func (s *realtimeSession) ID() string { return s.id }

func (s *realtimeSession) SendAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.logger.Error("failed to write audio data", "error", err)
		s.closed = true
	}
}

func (s *realtimeSession) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if !s.closed {
			s.conn.WriteJSON(terminateMessage{Type: "Terminate"})
			s.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
		}
		s.closed = true
		s.mu.Unlock()
		s.conn.Close()
	})
}

func (s *realtimeSession) readLoop(h Handler) {
	for {
		var msg realtimeMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()

			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
				reason = closeErr.Text
			}
			s.notifyOnce.Do(func() { h.Closed(code, reason) })
			return
		}

		switch msg.Type {
		case "Turn":
			text := strings.TrimSpace(msg.Transcript)
			if text == "" {
				continue
			}
			h.Turn(text, msg.EndOfTurn, msg.Speaker)
		case "Termination":
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.notifyOnce.Do(func() {
				h.Closed(websocket.CloseNormalClosure, "session terminated")
			})
			s.conn.Close()
			return
		default:
			if msg.Error != "" {
				h.TranscriptError(msg.Error)
				continue
			}
			s.logger.Debug("unhandled provider message", "type", msg.Type)
		}
	}
}
