// Package web serves a read-only view of a session's transcript, mostly for
// eyeballing attribution and reconciliation results.
package web

import (
	"context"
	"html/template"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"scribebridge/db"
)

// TranscriptReader is the slice of persistence the viewer needs.
type TranscriptReader interface {
	FindSession(ctx context.Context, id string) (db.Session, error)
	SessionTranscripts(ctx context.Context, sessionID string) ([]db.Transcript, error)
}

type Handler struct {
	store  TranscriptReader
	logger *log.Logger
}

func NewHandler(store TranscriptReader, logger *log.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

var transcriptTmpl = template.Must(template.New("transcript").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Session {{.Session.ID}}</title>
</head>
<body>
    <h1>Session {{.Session.ID}}</h1>
    <p>Started {{.Session.StartedAt.Format "2006-01-02 15:04:05"}}</p>
    <dl>
        {{range .Transcripts}}
        <dt><strong>Speaker {{.Speaker}}</strong> <small>{{.CreatedAt.Format "15:04:05"}}</small></dt>
        <dd>{{.Text}}</dd>
        {{end}}
    </dl>
</body>
</html>
`))

func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.store.FindSession(r.Context(), sessionID)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	transcripts, err := h.store.SessionTranscripts(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load transcripts", "session", sessionID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	finals := transcripts[:0:0]
	for _, t := range transcripts {
		if t.IsFinal {
			finals = append(finals, t)
		}
	}

	err = transcriptTmpl.Execute(w, struct {
		Session     db.Session
		Transcripts []db.Transcript
	}{sess, finals})
	if err != nil {
		h.logger.Error("failed to execute template", "error", err)
	}
}
