// Package session owns the library snapshot and the two-deck playback state.
package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/autodj/internal/logger"
	"github.com/lazypower/autodj/internal/model"
)

// ErrNotEnoughTracks is returned by Start when the library holds fewer than two tracks.
var ErrNotEnoughTracks = errors.New("need at least 2 tracks, scan a music directory first")

const (
	minTracks = 2
	dropCycle = 32.0
)

// Manager guards the session state. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	state     model.SessionState
	tracks    []model.TrackMetadata
	targetBPM float64
	now       func() time.Time
	log       logger.Logger
}

// New returns a stopped session that will target bpm once started.
func New(targetBPM float64) *Manager {
	if targetBPM <= 0 {
		targetBPM = model.DefaultBPM
	}
	return &Manager{
		state:     model.NewSessionState(),
		tracks:    []model.TrackMetadata{},
		targetBPM: targetBPM,
		now:       time.Now,
		log:       logger.Named("session"),
	}
}

// SetLibrary replaces the library snapshot.
func (m *Manager) SetLibrary(tracks []model.TrackMetadata) {
	cp := make([]model.TrackMetadata, len(tracks))
	copy(cp, tracks)
	m.mu.Lock()
	m.tracks = cp
	m.mu.Unlock()
}

// Library returns a copy of the library snapshot.
func (m *Manager) Library() []model.TrackMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.TrackMetadata, len(m.tracks))
	copy(cp, m.tracks)
	return cp
}

// FindTrack looks a track up by id.
func (m *Manager) FindTrack(id string) (model.TrackMetadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if t.TrackID == id {
			return t, true
		}
	}
	return model.TrackMetadata{}, false
}

// Start loads the first two tracks onto the decks and begins a new session.
// Starting a running session returns its current state unchanged.
func (m *Manager) Start(ctx context.Context) (model.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Status == model.SessionRunning {
		return m.state.Clone(), nil
	}
	if len(m.tracks) < minTracks {
		return model.SessionState{}, ErrNotEnoughTracks
	}

	id := uuid.NewString()
	m.state.SessionID = &id
	m.state.Status = model.SessionRunning
	m.state.BPMTarget = m.targetBPM
	m.state.DeckA.Load(m.tracks[0])
	m.state.DeckB.Load(m.tracks[1])

	trackA, trackB := m.tracks[0].TrackID, m.tracks[1].TrackID
	m.state.CurrentDecision = &model.DecisionEvent{
		Mode:           model.ModeDouble,
		TransitionType: model.TransHardCut,
		Reason:         "bootstrap decision",
		TimestampS:     float64(m.now().UnixNano()) / 1e9,
		TrackA:         &trackA,
		TrackB:         &trackB,
	}

	m.log.Info(ctx, "session started",
		logger.String("session_id", id),
		logger.String("track_a", trackA),
		logger.String("track_b", trackB),
		logger.Float64("bpm_target", m.targetBPM))
	return m.state.Clone(), nil
}

// Stop marks the session stopped. Deck positions are kept.
func (m *Manager) Stop(ctx context.Context) model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status == model.SessionRunning {
		m.log.Info(ctx, "session stopped")
	}
	m.state.Status = model.SessionStopped
	return m.state.Clone()
}

// Snapshot returns a deep copy of the current state.
func (m *Manager) Snapshot() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Running reports whether a session is in progress.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status == model.SessionRunning
}

// Tick advances both decks by step seconds. It is a no-op when stopped.
func (m *Manager) Tick(step float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Status != model.SessionRunning {
		return
	}
	advance(&m.state.DeckA, step)
	advance(&m.state.DeckB, step)
	m.state.DeckA.IsDropWindow = inWindow(m.state.DeckA.ProgressS, 26, 30)
	m.state.DeckB.IsDropWindow = inWindow(m.state.DeckB.ProgressS, 30, 34)
}

// Run ticks the session every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	step := interval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(step)
		}
	}
}

func advance(d *model.DeckState, step float64) {
	d.ProgressS = math.Mod(d.ProgressS+step, d.Length())
}

// Deck B's window (30..34) runs past the 32s cycle, so it effectively ends at the cycle boundary.
func inWindow(progress, lo, hi float64) bool {
	p := math.Mod(progress, dropCycle)
	return p >= lo && p <= hi
}
