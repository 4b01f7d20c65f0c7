// Package model holds the data shapes shared by the scanner, the session
// manager, the experience store and the HTTP layer.
package model

// SessionStatus is the playback session lifecycle state.
type SessionStatus string

const (
	SessionStopped SessionStatus = "stopped"
	SessionRunning SessionStatus = "running"
)

// Decision modes and transition types a DecisionEvent may carry. They are
// labels only; nothing in this service computes them.
const (
	ModeSingle    = "single"
	ModeDouble    = "double"
	ModeEarlyCut  = "early_cut"
	ModeFakeDrop  = "fake_drop"
	TransHardCut  = "hard_cut"
	TransEchoOut  = "echo_out"
	TransSilence  = "silence"
	DefaultBPM    = 140.0
	DeckA         = "A"
	DeckB         = "B"
	minDeckLength = 1.0
)

// TrackMetadata is the placeholder analysis for one scanned file.
type TrackMetadata struct {
	TrackID   string    `json:"track_id"`
	Title     string    `json:"title"`
	BPM       float64   `json:"bpm"`
	Key       string    `json:"key"`
	DropTimes []float64 `json:"drop_times"`
	DurationS float64   `json:"duration_s"`
}

// DeckState is the playback position of one deck.
type DeckState struct {
	DeckID       string   `json:"deck_id"`
	TrackID      *string  `json:"track_id"`
	Title        *string  `json:"title"`
	BPM          *float64 `json:"bpm"`
	Key          *string  `json:"key"`
	ProgressS    float64  `json:"progress_s"`
	DurationS    float64  `json:"duration_s"`
	IsDropWindow bool     `json:"is_drop_window"`
}

// NewDeck returns an empty deck with the given id.
func NewDeck(id string) DeckState {
	return DeckState{DeckID: id, DurationS: minDeckLength}
}

// Load puts a track on the deck.
func (d *DeckState) Load(t TrackMetadata) {
	id, title, key, bpm := t.TrackID, t.Title, t.Key, t.BPM
	d.TrackID = &id
	d.Title = &title
	d.Key = &key
	d.BPM = &bpm
	d.DurationS = t.DurationS
}

// Length is the deck duration used for wrap-around, never below one second.
func (d DeckState) Length() float64 {
	if d.DurationS < minDeckLength {
		return minDeckLength
	}
	return d.DurationS
}

// DecisionEvent records which transition the session is currently on.
type DecisionEvent struct {
	Mode           string  `json:"mode"`
	TransitionType string  `json:"transition_type"`
	Reason         string  `json:"reason"`
	TimestampS     float64 `json:"timestamp_s"`
	TrackA         *string `json:"track_a"`
	TrackB         *string `json:"track_b"`
}

// SessionState is the full two-deck session snapshot.
type SessionState struct {
	SessionID       *string        `json:"session_id"`
	Status          SessionStatus  `json:"status"`
	BPMTarget       float64        `json:"bpm_target"`
	DeckA           DeckState      `json:"deck_a"`
	DeckB           DeckState      `json:"deck_b"`
	CurrentDecision *DecisionEvent `json:"current_decision"`
}

// NewSessionState returns a stopped session with empty decks.
func NewSessionState() SessionState {
	return SessionState{
		Status:    SessionStopped,
		BPMTarget: DefaultBPM,
		DeckA:     NewDeck(DeckA),
		DeckB:     NewDeck(DeckB),
	}
}

// Clone returns a deep copy so callers can read it without holding a lock.
func (s SessionState) Clone() SessionState {
	out := s
	out.SessionID = cloneString(s.SessionID)
	out.DeckA = s.DeckA.clone()
	out.DeckB = s.DeckB.clone()
	if s.CurrentDecision != nil {
		d := *s.CurrentDecision
		d.TrackA = cloneString(d.TrackA)
		d.TrackB = cloneString(d.TrackB)
		out.CurrentDecision = &d
	}
	return out
}

func (d DeckState) clone() DeckState {
	out := d
	out.TrackID = cloneString(d.TrackID)
	out.Title = cloneString(d.Title)
	out.Key = cloneString(d.Key)
	if d.BPM != nil {
		v := *d.BPM
		out.BPM = &v
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ScanResult summarises a library scan.
type ScanResult struct {
	ScannedPath string `json:"scanned_path"`
	TracksFound int    `json:"tracks_found"`
}
