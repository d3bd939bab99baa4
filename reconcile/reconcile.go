// Package reconcile corrects speaker labels after a session ends. The live
// path guesses speakers from pauses and turn lengths; once the full
// recording has been through batch diarization we match the authoritative
// utterances against the persisted ones by text similarity and rewrite the
// labels that were wrong.
package reconcile

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"scribebridge/db"
	"scribebridge/stt"
)

// DefaultThreshold is the minimum Jaccard similarity before we trust a batch
// utterance enough to overwrite a live speaker label.
const DefaultThreshold = 0.5

// Store is the slice of persistence the job needs.
type Store interface {
	SessionTranscripts(ctx context.Context, sessionID string) ([]db.Transcript, error)
	UpdateTranscriptSpeaker(ctx context.Context, id, newSpeaker string) error
}

// Report summarizes one reconciliation run.
type Report struct {
	Matched int // transcripts with a batch match above threshold
	Updated int // speaker labels actually rewritten
	Skipped int // no match above threshold
	Errored int // matched but the write failed
}

type Job struct {
	store     Store
	threshold float64
	logger    *log.Logger
}

func NewJob(store Store, threshold float64, logger *log.Logger) *Job {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Job{store: store, threshold: threshold, logger: logger}
}

// Run matches every persisted final transcript of the session against the
// batch utterances and rewrites divergent speaker labels. A failed write is
// logged and counted; it never aborts the rest. Running twice against the
// same batch output makes no writes the second time.
func (j *Job) Run(
	ctx context.Context,
	sessionID string,
	batch []stt.BatchUtterance,
) (Report, error) {
	var report Report

	transcripts, err := j.store.SessionTranscripts(ctx, sessionID)
	if err != nil {
		return report, err
	}

	// Lowercased batch text -> speaker. Last write wins on duplicate text.
	bySample := make(map[string]string, len(batch))
	for _, u := range batch {
		bySample[strings.ToLower(strings.TrimSpace(u.Text))] = u.Speaker
	}

	for _, t := range transcripts {
		if !t.IsFinal {
			continue
		}

		bestScore := 0.0
		bestSpeaker := ""
		for sample, sp := range bySample {
			score := Jaccard(strings.ToLower(t.Text), sample)
			if score > bestScore {
				bestScore = score
				bestSpeaker = sp
			}
		}

		if bestScore <= j.threshold {
			report.Skipped++
			continue
		}
		report.Matched++

		if bestSpeaker == t.Speaker {
			continue
		}

		if err := j.store.UpdateTranscriptSpeaker(ctx, t.ID, bestSpeaker); err != nil {
			j.logger.Error(
				"failed to rewrite speaker",
				"transcript", t.ID, "speaker", bestSpeaker, "error", err,
			)
			report.Errored++
			continue
		}
		report.Updated++
	}

	j.logger.Info(
		"reconciliation done",
		"session", sessionID,
		"matched", report.Matched,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"errored", report.Errored,
	)
	return report, nil
}

// Jaccard measures word-set overlap between two texts: intersection over
// union of their whitespace-separated tokens. Two empty texts are identical
// (1.0); an empty text shares nothing with a non-empty one (0.0).
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(text) {
		set[tok] = struct{}{}
	}
	return set
}
