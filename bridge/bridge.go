// Package bridge accepts duplex audio connections from clients, relays the
// audio to the streaming transcription provider, and sends transcript events
// back. One goroutine per connection; the only shared structure is the
// session registry.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"scribebridge/db"
	"scribebridge/session"
	"scribebridge/speaker"
	"scribebridge/stt"
)

// Log a debug line for every Nth audio frame rather than sampling randomly,
// so tests can predict exactly which frames get logged.
const audioLogEvery = 50

// Store is the slice of persistence the bridge needs.
type Store interface {
	CreateSession(ctx context.Context, id, owner, patientRef string) (db.Session, error)
	FindSession(ctx context.Context, id string) (db.Session, error)
	EndSession(ctx context.Context, id string) error
	InsertTranscript(ctx context.Context, t db.Transcript) error
}

type Bridge struct {
	registry *session.Registry
	store    Store
	verifier TokenVerifier
	stt      stt.Starter
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func New(
	registry *session.Registry,
	store Store,
	verifier TokenVerifier,
	starter stt.Starter,
	logger *log.Logger,
) *Bridge {
	return &Bridge{
		registry: registry,
		store:    store,
		verifier: verifier,
		stt:      starter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// serverMessage is every JSON frame we send to the client.
type serverMessage struct {
	Type              string `json:"type"`
	SessionID         string `json:"session_id,omitempty"`
	UpstreamSessionID string `json:"upstream_session_id,omitempty"`
	Text              string `json:"text,omitempty"`
	Speaker           string `json:"speaker,omitempty"`
	Message           string `json:"message,omitempty"`
}

// wsConn serializes writes: the connection goroutine and the provider event
// goroutine both send to the client.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg serverMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) closePolicy(reason string) {
	c.mu.Lock()
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second),
	)
	c.mu.Unlock()
	c.conn.Close()
}

// HandleWS runs one connection from upgrade to teardown.
func (b *Bridge) HandleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}

	q := r.URL.Query()
	token := q.Get("token")
	sessionID := q.Get("session")
	patientRef := q.Get("patient")

	owner, err := b.verifier.Verify(r.Context(), token)
	if err != nil {
		b.logger.Warn("rejected connection", "error", err)
		conn.closePolicy("unauthorized")
		return
	}

	sessionID, err = b.resolveSession(r.Context(), sessionID, owner, patientRef)
	if err != nil {
		b.logger.Warn("rejected connection", "owner", owner, "error", err)
		conn.closePolicy(err.Error())
		return
	}

	if _, active := b.registry.Get(sessionID); active {
		b.logger.Warn("session already active", "session", sessionID)
		conn.closePolicy("session already active")
		return
	}

	st := session.New(sessionID, time.Now())

	handler := &upstreamHandler{
		conn:   conn,
		state:  st,
		store:  b.store,
		logger: b.logger,
	}

	upstreamID := ""
	live, err := b.stt.Start(r.Context(), handler)
	if err != nil {
		// Degraded mode: the connection stays up, audio is counted, no
		// transcripts are produced.
		b.logger.Warn(
			"transcription disabled for session",
			"session", sessionID, "error", err,
		)
		upstreamID = "degraded-" + uuid.NewString()
	} else {
		st.UpstreamEnabled = true
		st.Upstream = live
		upstreamID = live.ID()
	}

	b.registry.Put(sessionID, st)

	var teardown sync.Once
	closeSession := func() {
		teardown.Do(func() {
			if err := b.store.EndSession(context.Background(), sessionID); err != nil {
				b.logger.Error("failed to mark session ended", "session", sessionID, "error", err)
			}
			st.CloseUpstream()
			b.registry.Remove(sessionID)
			raw.Close()
			b.logger.Info(
				"session closed",
				"session", sessionID,
				"bytes", st.AudioBytesReceived,
				"chunks", st.AudioChunksReceived,
				"duration", time.Since(st.StartedAt),
			)
		})
	}
	defer closeSession()

	if err := conn.send(serverMessage{
		Type:              "session_started",
		SessionID:         sessionID,
		UpstreamSessionID: upstreamID,
	}); err != nil {
		return
	}

	b.logger.Info(
		"session started",
		"session", sessionID,
		"upstream", upstreamID,
		"owner", owner,
	)

	for {
		messageType, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			// Reserved for future control messages.
			continue
		}

		st.CountAudio(len(data))
		if st.AudioChunksReceived%audioLogEvery == 0 {
			b.logger.Debug(
				"audio",
				"session", sessionID,
				"chunks", st.AudioChunksReceived,
				"bytes", st.AudioBytesReceived,
			)
		}
		if st.UpstreamEnabled {
			st.Upstream.SendAudio(data)
		}
	}
}

// resolveSession checks an existing session's ownership or creates a fresh
// record. The returned error text is safe to send to the client.
func (b *Bridge) resolveSession(
	ctx context.Context,
	sessionID, owner, patientRef string,
) (string, error) {
	if sessionID != "" {
		rec, err := b.store.FindSession(ctx, sessionID)
		if errors.Is(err, db.ErrNotFound) {
			return "", errors.New("session not found")
		}
		if err != nil {
			b.logger.Error("session lookup failed", "session", sessionID, "error", err)
			return "", errors.New("session unavailable")
		}
		if rec.Owner != owner {
			return "", errors.New("session not owned by caller")
		}
		return sessionID, nil
	}

	sessionID = uuid.NewString()
	if _, err := b.store.CreateSession(ctx, sessionID, owner, patientRef); err != nil {
		b.logger.Error("session create failed", "error", err)
		return "", errors.New("session unavailable")
	}
	return sessionID, nil
}

// upstreamHandler turns provider events into attribution updates, persisted
// transcripts, and client messages. All methods run on the provider
// connection's read goroutine, so attribution state has a single writer.
type upstreamHandler struct {
	conn   *wsConn
	state  *session.State
	store  Store
	logger *log.Logger
}

func (h *upstreamHandler) Opened(sessionID string, expiresAt time.Time) {
	h.logger.Info(
		"upstream open",
		"session", h.state.ID,
		"upstream", sessionID,
		"expires", expiresAt,
	)
}

func (h *upstreamHandler) Turn(text string, endOfTurn bool, speakerHint string) {
	next, label := speaker.Assign(
		h.state.Attribution, text, endOfTurn, speakerHint, time.Now(),
	)
	h.state.Attribution = next

	if !endOfTurn {
		h.conn.send(serverMessage{
			Type:    "interim_transcript",
			Text:    text,
			Speaker: label,
		})
		return
	}

	record := db.Transcript{
		ID:        uuid.NewString(),
		SessionID: h.state.ID,
		Text:      text,
		Speaker:   label,
		IsFinal:   true,
		CreatedAt: time.Now(),
	}
	if err := h.store.InsertTranscript(context.Background(), record); err != nil {
		// Delivery to the client beats durability here.
		h.logger.Error(
			"failed to persist transcript",
			"session", h.state.ID, "error", err,
		)
	}

	h.conn.send(serverMessage{
		Type:    "final_transcript",
		Text:    text,
		Speaker: label,
	})
}

func (h *upstreamHandler) TranscriptError(message string) {
	h.logger.Error("upstream error", "session", h.state.ID, "message", message)
	h.conn.send(serverMessage{
		Type:    "error",
		Message: message,
	})
}

func (h *upstreamHandler) Closed(code int, reason string) {
	h.logger.Info(
		"upstream closed",
		"session", h.state.ID, "code", code, "reason", reason,
	)
}
