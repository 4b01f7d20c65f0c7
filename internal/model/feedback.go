package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLabel is returned for any feedback label other than GOOD or BAD.
var ErrInvalidLabel = errors.New("invalid feedback label")

// DefaultContextBucket is used when a feedback event does not name a context.
const DefaultContextBucket = "default"

// Label is the human verdict on a single transition decision.
type Label string

const (
	LabelGood Label = "GOOD"
	LabelBad  Label = "BAD"
)

// ParseLabel accepts exactly "GOOD" or "BAD".
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case LabelGood, LabelBad:
		return Label(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLabel, s)
}

// Valid reports whether l is one of the two known labels.
func (l Label) Valid() bool {
	return l == LabelGood || l == LabelBad
}

// Delta is the score contribution of the label: +1 for GOOD, -1 for BAD.
func (l Label) Delta() float64 {
	if l == LabelGood {
		return 1
	}
	return -1
}

func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLabel, strings.TrimSpace(string(data)))
	}
	parsed, err := ParseLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// FeedbackEvent is one piece of feedback about a transition decision.
// TrackA and TrackB are nil when the decision did not involve that track.
type FeedbackEvent struct {
	Label          Label   `json:"label"`
	DecisionMode   string  `json:"decision_mode"`
	TrackA         *string `json:"track_a"`
	TrackB         *string `json:"track_b"`
	TransitionType string  `json:"transition_type"`
	ContextBucket  string  `json:"context_bucket"`
}

// Validate rejects events whose label is not GOOD or BAD.
func (e FeedbackEvent) Validate() error {
	if !e.Label.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, string(e.Label))
	}
	return nil
}

// Bucket returns the context bucket, falling back to DefaultContextBucket.
func (e FeedbackEvent) Bucket() string {
	if e.ContextBucket == "" {
		return DefaultContextBucket
	}
	return e.ContextBucket
}
