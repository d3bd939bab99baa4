// Package speaker infers who said what when the streaming transcription
// provider gives us text without speaker labels. It is pure state plus
// arithmetic: no I/O, no clocks of its own, no locks.
package speaker

import (
	"math"
	"time"
)

const (
	// A gap longer than this between turns almost always means the floor
	// changed hands to someone we have not heard yet.
	veryLongPause = 4 * time.Second

	// A gap longer than this is suspicious; we compare turn lengths before
	// deciding whether the speaker changed.
	longPause = 2 * time.Second

	// Relative turn-length tolerances for keeping vs. switching speakers.
	keepTolerance   = 0.30
	switchThreshold = 0.50

	historyDepth = 10

	// Exponential moving average weights for a speaker's turn length.
	emaOld = 0.7
	emaNew = 0.3
)

// labelPool is every label we will ever hand out, in allocation order.
var labelPool = [...]string{"A", "B", "C", "D"}

// Pattern is what we remember about one speaker.
type Pattern struct {
	Count      int
	AvgTurnLen float64
	LastSeen   time.Time
}

// Turn records one finalized utterance for the rolling history window.
type Turn struct {
	Speaker string
	Length  int
	At      time.Time
}

// State is the attribution memory for one session. The zero value is ready
// to use. State is a value type: Assign returns the successor state rather
// than mutating in place, so sequences of turns can be replayed and tested
// without a live connection.
type State struct {
	LastSpeaker string
	LastTurn    time.Time
	History     []Turn
	Patterns    map[string]Pattern
	hints       map[string]string
}

// NewState returns an empty attribution state.
func NewState() State {
	return State{}
}

func (s State) clone() State {
	next := State{
		LastSpeaker: s.LastSpeaker,
		LastTurn:    s.LastTurn,
		History:     make([]Turn, len(s.History), historyDepth+1),
		Patterns:    make(map[string]Pattern, len(s.Patterns)),
		hints:       make(map[string]string, len(s.hints)),
	}
	copy(next.History, s.History)
	for k, v := range s.Patterns {
		next.Patterns[k] = v
	}
	for k, v := range s.hints {
		next.hints[k] = v
	}
	return next
}

// Assign attributes one utterance. Interim utterances (isFinal false) only
// read the state: they echo the current speaker and never change anything.
// Final utterances run the pause/turn-length heuristic (or the hint mapping
// when the provider supplied a speaker) and return the successor state.
func Assign(s State, text string, isFinal bool, hint string, now time.Time) (State, string) {
	if !isFinal {
		if hint != "" {
			if label, ok := s.hints[hint]; ok {
				return s, label
			}
		}
		if s.LastSpeaker != "" {
			return s, s.LastSpeaker
		}
		return s, labelPool[0]
	}

	next := s.clone()

	var label string
	if hint != "" {
		label = next.mapHint(hint)
	} else {
		label = next.infer(len(text), now)
	}

	next.recordTurn(label, len(text), now)
	return next, label
}

// mapHint maps a provider-reported speaker 1:1 onto our label pool. Once all
// four labels are taken, unseen hints collapse onto the most recent speaker.
func (s *State) mapHint(hint string) string {
	if label, ok := s.hints[hint]; ok {
		return label
	}
	label := s.nextUnusedLabel()
	s.hints[hint] = label
	return label
}

// infer runs the pause and turn-length heuristic for an unlabeled final turn.
func (s *State) infer(length int, now time.Time) string {
	if s.LastSpeaker == "" {
		return labelPool[0]
	}

	pause := time.Duration(math.MaxInt64)
	if !s.LastTurn.IsZero() {
		pause = now.Sub(s.LastTurn)
	}

	if pause > veryLongPause {
		return s.nextUnusedLabel()
	}

	last, known := s.Patterns[s.LastSpeaker]
	if !known {
		if pause > longPause {
			return s.cycleLabel()
		}
		return s.LastSpeaker
	}

	diff := relDiff(float64(length), last.AvgTurnLen)

	if pause > longPause {
		if diff > switchThreshold {
			return s.nextUnusedLabel()
		}
		return s.LastSpeaker
	}

	if diff < keepTolerance {
		return s.LastSpeaker
	}
	for _, candidate := range labelPool {
		p, ok := s.Patterns[candidate]
		if !ok {
			continue
		}
		if relDiff(float64(length), p.AvgTurnLen) < keepTolerance {
			return candidate
		}
	}
	return s.nextUnusedLabel()
}

// nextUnusedLabel hands out the first pool label with no pattern yet. With
// all four in use it falls back to whoever spoke last.
func (s *State) nextUnusedLabel() string {
	for _, label := range labelPool {
		if _, ok := s.Patterns[label]; !ok {
			return label
		}
	}
	if s.LastSpeaker != "" {
		return s.LastSpeaker
	}
	return labelPool[0]
}

// cycleLabel advances through the pool in order, wrapping within the labels
// we have evidence for plus one fresh slot.
func (s *State) cycleLabel() string {
	bound := len(s.Patterns) + 1
	if bound > len(labelPool) {
		bound = len(labelPool)
	}
	idx := 0
	for i, label := range labelPool {
		if label == s.LastSpeaker {
			idx = i
			break
		}
	}
	return labelPool[(idx+1)%bound]
}

func (s *State) recordTurn(label string, length int, now time.Time) {
	p, ok := s.Patterns[label]
	if ok {
		p.Count++
		p.AvgTurnLen = p.AvgTurnLen*emaOld + float64(length)*emaNew
		p.LastSeen = now
	} else {
		p = Pattern{Count: 1, AvgTurnLen: float64(length), LastSeen: now}
	}
	s.Patterns[label] = p

	s.History = append(s.History, Turn{Speaker: label, Length: length, At: now})
	if len(s.History) > historyDepth {
		s.History = s.History[1:]
	}

	s.LastSpeaker = label
	s.LastTurn = now
}

// relDiff is the difference between two turn lengths relative to the larger
// one, so it is symmetric and bounded in [0,1].
func relDiff(a, b float64) float64 {
	larger := math.Max(a, b)
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}
