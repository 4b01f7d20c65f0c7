package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/autodj/internal/model"
)

func tracks(n int) []model.TrackMetadata {
	out := make([]model.TrackMetadata, n)
	for i := range out {
		out[i] = model.TrackMetadata{
			TrackID:   "/music/" + string(rune('a'+i)) + ".mp3",
			Title:     string(rune('a' + i)),
			BPM:       140,
			Key:       "8A",
			DropTimes: []float64{32, 64},
			DurationS: 180,
		}
	}
	return out
}

func TestStartRequiresTwoTracks(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(1))

	if _, err := m.Start(context.Background()); !errors.Is(err, ErrNotEnoughTracks) {
		t.Fatalf("err = %v, want ErrNotEnoughTracks", err)
	}
	if m.Running() {
		t.Error("session running after failed start")
	}
}

func TestStart(t *testing.T) {
	m := New(128)
	m.now = func() time.Time { return time.Unix(1700000000, 0) }
	m.SetLibrary(tracks(3))

	st, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st.Status != model.SessionRunning {
		t.Errorf("status = %q, want running", st.Status)
	}
	if st.SessionID == nil || *st.SessionID == "" {
		t.Fatal("session id not assigned")
	}
	if st.BPMTarget != 128 {
		t.Errorf("bpm target = %v, want 128", st.BPMTarget)
	}
	if *st.DeckA.TrackID != "/music/a.mp3" || *st.DeckB.TrackID != "/music/b.mp3" {
		t.Errorf("decks = %q/%q", *st.DeckA.TrackID, *st.DeckB.TrackID)
	}
	d := st.CurrentDecision
	if d == nil {
		t.Fatal("no bootstrap decision")
	}
	if d.Mode != model.ModeDouble || d.TransitionType != model.TransHardCut || d.Reason != "bootstrap decision" {
		t.Errorf("decision = %+v", d)
	}
	if d.TimestampS != 1700000000 {
		t.Errorf("timestamp = %v", d.TimestampS)
	}
	if *d.TrackA != "/music/a.mp3" || *d.TrackB != "/music/b.mp3" {
		t.Errorf("decision tracks = %q/%q", *d.TrackA, *d.TrackB)
	}
}

func TestStartWhileRunningKeepsSession(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(2))
	first, err := m.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	m.Tick(5)

	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if *second.SessionID != *first.SessionID {
		t.Errorf("session id changed: %q -> %q", *first.SessionID, *second.SessionID)
	}
	if second.DeckA.ProgressS != 5 {
		t.Errorf("progress reset to %v", second.DeckA.ProgressS)
	}
}

func TestStopAndRestart(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(2))
	first, _ := m.Start(context.Background())

	st := m.Stop(context.Background())
	if st.Status != model.SessionStopped {
		t.Errorf("status = %q, want stopped", st.Status)
	}
	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if *second.SessionID == *first.SessionID {
		t.Error("restart reused session id")
	}
}

func TestTick(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(2))

	m.Tick(10)
	if got := m.Snapshot().DeckA.ProgressS; got != 0 {
		t.Errorf("stopped tick advanced to %v", got)
	}

	m.Start(context.Background())
	m.Tick(27)
	st := m.Snapshot()
	if st.DeckA.ProgressS != 27 || !st.DeckA.IsDropWindow {
		t.Errorf("deck A = %v window=%v, want 27 in window", st.DeckA.ProgressS, st.DeckA.IsDropWindow)
	}
	if st.DeckB.IsDropWindow {
		t.Error("deck B in window at 27")
	}

	m.Tick(4)
	st = m.Snapshot()
	if st.DeckA.IsDropWindow {
		t.Error("deck A in window at 31")
	}
	if !st.DeckB.IsDropWindow {
		t.Error("deck B not in window at 31")
	}

	m.Tick(150)
	if got := m.Snapshot().DeckA.ProgressS; math.Abs(got-1) > 1e-9 {
		t.Errorf("wrap-around progress = %v, want 1", got)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(2))
	m.Start(context.Background())

	st := m.Snapshot()
	*st.DeckA.TrackID = "mutated"
	st.CurrentDecision.Reason = "mutated"

	again := m.Snapshot()
	if *again.DeckA.TrackID == "mutated" || again.CurrentDecision.Reason == "mutated" {
		t.Error("snapshot shares memory with manager state")
	}
}

func TestFindTrack(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(3))

	if tr, ok := m.FindTrack("/music/c.mp3"); !ok || tr.Title != "c" {
		t.Errorf("FindTrack = %+v, %v", tr, ok)
	}
	if _, ok := m.FindTrack("/music/z.mp3"); ok {
		t.Error("found unknown track")
	}
	if n := len(m.Library()); n != 3 {
		t.Errorf("Library len = %d", n)
	}
}

func TestRun(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(2))
	m.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(ctx, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m.Snapshot().DeckA.ProgressS == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if m.Snapshot().DeckA.ProgressS == 0 {
		t.Error("Run never advanced the decks")
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New(140)
	m.SetLibrary(tracks(4))
	m.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Tick(0.5)
				_ = m.Snapshot()
				_ = m.Running()
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().DeckA.ProgressS; got != math.Mod(400, 180) {
		t.Errorf("progress = %v, want %v", got, math.Mod(400, 180))
	}
}
