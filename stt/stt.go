// Package stt talks to the speech-to-text provider: a realtime websocket
// session for live audio and a batch job API for full-recording diarization.
package stt

import (
	"context"
	"time"
)

// Handler receives the events a live transcription session emits. All
// callbacks for one session are invoked from a single goroutine, in the
// order the provider sent them.
type Handler interface {
	// Opened fires once, when the provider has accepted the stream.
	Opened(sessionID string, expiresAt time.Time)

	// Turn fires for each transcript segment. endOfTurn marks a finalized
	// utterance; speaker carries the provider's speaker tag when it sends
	// one, and is empty otherwise.
	Turn(text string, endOfTurn bool, speaker string)

	// TranscriptError fires on a provider-reported error. The session stays
	// open unless the provider also closes it.
	TranscriptError(message string)

	// Closed fires once when the provider connection is gone, whatever the
	// reason.
	Closed(code int, reason string)
}

// LiveSession is one open streaming connection to the provider.
type LiveSession interface {
	// ID is the provider's identifier for this stream.
	ID() string

	// SendAudio forwards one frame of raw audio. It never fails: once the
	// underlying connection is closed or was never established, it is a
	// no-op.
	SendAudio(data []byte)

	// Close tears the stream down. Safe to call more than once.
	Close()
}

// Starter opens live sessions. The bridge depends on this interface so tests
// can substitute a scripted provider.
type Starter interface {
	Start(ctx context.Context, h Handler) (LiveSession, error)
}

// BatchUtterance is one speaker-attributed utterance from a batch
// diarization job.
type BatchUtterance struct {
	Text    string
	Speaker string
}
