package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lazypower/autodj/internal/model"
)

func strp(s string) *string { return &s }

func feedback(label model.Label, mode string, a, b *string) model.FeedbackEvent {
	return model.FeedbackEvent{
		Label:          label,
		DecisionMode:   mode,
		TrackA:         a,
		TrackB:         b,
		TransitionType: "hard_cut",
		ContextBucket:  "default",
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyFeedbackCreatesRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ev := feedback(model.LabelBad, "single", strp("a"), nil)
	if err := db.ApplyFeedback(ctx, ev); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}

	s, err := db.GetScore(ctx, KeyOf(ev))
	if err != nil {
		t.Fatalf("GetScore: %v", err)
	}
	if s == nil {
		t.Fatal("expected row, got nil")
	}
	if s.Score != -1 {
		t.Errorf("Score = %v, want -1", s.Score)
	}
	if s.NPositive != 0 || s.NNegative != 1 {
		t.Errorf("counters = (%d, %d), want (0, 1)", s.NPositive, s.NNegative)
	}
	if s.TrackA == nil || *s.TrackA != "a" {
		t.Errorf("TrackA = %v, want a", s.TrackA)
	}
	if s.TrackB != nil {
		t.Errorf("TrackB = %q, want nil", *s.TrackB)
	}
}

func TestDecayLaw(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	labels := []model.Label{model.LabelGood, model.LabelGood, model.LabelBad}
	for _, l := range labels {
		if err := db.ApplyFeedback(ctx, feedback(l, "double", strp("x"), strp("y"))); err != nil {
			t.Fatalf("ApplyFeedback: %v", err)
		}
	}

	s, err := db.GetScore(ctx, KeyOf(feedback(model.LabelGood, "double", strp("x"), strp("y"))))
	if err != nil || s == nil {
		t.Fatalf("GetScore: %v, %v", s, err)
	}
	if !almostEqual(s.Score, 0.9404) {
		t.Errorf("Score = %v, want 0.9404", s.Score)
	}
	if s.NPositive != 2 || s.NNegative != 1 {
		t.Errorf("counters = (%d, %d), want (2, 1)", s.NPositive, s.NNegative)
	}
}

func TestRoundingIsolation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ev := feedback(model.LabelGood, "single", nil, nil)

	reference := 0.0
	for i := 0; i < 37; i++ {
		label := model.LabelGood
		if i%3 == 0 {
			label = model.LabelBad
		}
		ev.Label = label
		if err := db.ApplyFeedback(ctx, ev); err != nil {
			t.Fatalf("ApplyFeedback: %v", err)
		}
		reference = reference*Decay + label.Delta()
	}

	raw, err := db.GetScore(ctx, KeyOf(ev))
	if err != nil || raw == nil {
		t.Fatalf("GetScore: %v, %v", raw, err)
	}
	if !almostEqual(raw.Score, reference) {
		t.Errorf("stored score = %v, want %v", raw.Score, reference)
	}

	rows, err := db.TopRows(ctx, 1)
	if err != nil {
		t.Fatalf("TopRows: %v", err)
	}
	if got, want := rows[0].Score, math.Round(reference*1000)/1000; got != want {
		t.Errorf("displayed score = %v, want %v", got, want)
	}
}

func TestIdentityIsolation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	single := feedback(model.LabelGood, "single", strp("x"), nil)
	double := feedback(model.LabelBad, "double", strp("x"), nil)
	db.ApplyFeedback(ctx, single)
	db.ApplyFeedback(ctx, double)
	db.ApplyFeedback(ctx, double)

	s, _ := db.GetScore(ctx, KeyOf(single))
	if s == nil || s.Score != 1 || s.NPositive != 1 || s.NNegative != 0 {
		t.Errorf("single row = %+v, want untouched score 1", s)
	}

	n, err := db.CountScores(ctx)
	if err != nil {
		t.Fatalf("CountScores: %v", err)
	}
	if n != 2 {
		t.Errorf("CountScores = %d, want 2", n)
	}
}

func TestNullTracksShareIdentity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := db.ApplyFeedback(ctx, feedback(model.LabelGood, "single", nil, nil)); err != nil {
			t.Fatalf("ApplyFeedback: %v", err)
		}
	}
	// Empty string is a value, not the absence of one.
	db.ApplyFeedback(ctx, feedback(model.LabelGood, "single", strp(""), nil))

	n, _ := db.CountScores(ctx)
	if n != 2 {
		t.Fatalf("CountScores = %d, want 2 (nil tracks merged, empty string separate)", n)
	}

	s, _ := db.GetScore(ctx, KeyOf(feedback(model.LabelGood, "single", nil, nil)))
	if s == nil || s.NPositive != 3 {
		t.Errorf("nil-track row = %+v, want n_positive 3", s)
	}
}

func TestInvalidUTF8TracksStayDistinct(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	good := feedback(model.LabelGood, "single", strp("/music/\xff.mp3"), nil)
	bad := feedback(model.LabelBad, "single", strp("/music/\xfe.mp3"), nil)
	if err := db.ApplyFeedback(ctx, good); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}
	if err := db.ApplyFeedback(ctx, bad); err != nil {
		t.Fatalf("ApplyFeedback: %v", err)
	}

	n, _ := db.CountScores(ctx)
	if n != 2 {
		t.Fatalf("CountScores = %d, want 2", n)
	}

	for _, tc := range []struct {
		ev    model.FeedbackEvent
		score float64
		pos   int
		neg   int
	}{
		{good, 1, 1, 0},
		{bad, -1, 0, 1},
	} {
		s, err := db.GetScore(ctx, KeyOf(tc.ev))
		if err != nil {
			t.Fatalf("GetScore: %v", err)
		}
		if s == nil {
			t.Fatalf("no row for %q", *tc.ev.TrackA)
		}
		if s.Score != tc.score || s.NPositive != tc.pos || s.NNegative != tc.neg {
			t.Errorf("row %q = %+v, want score %v counters (%d, %d)", *tc.ev.TrackA, s, tc.score, tc.pos, tc.neg)
		}
		if s.TrackA == nil || *s.TrackA != *tc.ev.TrackA {
			t.Errorf("TrackA = %v, want raw bytes %q", s.TrackA, *tc.ev.TrackA)
		}
	}
}

func TestIdentityEncoding(t *testing.T) {
	cases := []struct {
		a, b ScoreKey
	}{
		{ScoreKey{Mode: "single", TrackA: strp("\xff")}, ScoreKey{Mode: "single", TrackA: strp("\xfe")}},
		{ScoreKey{Mode: "single", TrackA: strp("null")}, ScoreKey{Mode: "single"}},
		{ScoreKey{Mode: "a,b", TrackA: strp("c")}, ScoreKey{Mode: "a", TrackA: strp("b,c")}},
		{ScoreKey{Mode: `a"`, TrackA: strp("b")}, ScoreKey{Mode: "a", TrackA: strp(`"b`)}},
	}
	for _, tc := range cases {
		if tc.a.identity() == tc.b.identity() {
			t.Errorf("identity collision: %+v and %+v both encode to %s", tc.a, tc.b, tc.a.identity())
		}
	}
}

func TestContextBucketDefault(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	ev := feedback(model.LabelGood, "single", nil, nil)
	ev.ContextBucket = ""
	db.ApplyFeedback(ctx, ev)

	rows, _ := db.TopRows(ctx, 0)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].ContextBucket != model.DefaultContextBucket {
		t.Errorf("ContextBucket = %q, want %q", rows[0].ContextBucket, model.DefaultContextBucket)
	}

	late := ev
	late.ContextBucket = "late_night"
	db.ApplyFeedback(ctx, late)
	if n, _ := db.CountScores(ctx); n != 2 {
		t.Errorf("CountScores = %d, want 2", n)
	}
}

func TestApplyFeedbackInvalidLabel(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.ApplyFeedback(ctx, feedback("MAYBE", "single", nil, nil))
	if !errors.Is(err, model.ErrInvalidLabel) {
		t.Fatalf("err = %v, want ErrInvalidLabel", err)
	}
	if n, _ := db.CountScores(ctx); n != 0 {
		t.Errorf("CountScores = %d, want 0", n)
	}
}

func TestApplyFeedbackStorageError(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	db.Close()

	err = db.ApplyFeedback(context.Background(), feedback(model.LabelGood, "single", nil, nil))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("ApplyFeedback on closed db = %v, want ErrStorageUnavailable", err)
	}
	if _, err := db.TopRows(context.Background(), 5); !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("TopRows on closed db = %v, want ErrStorageUnavailable", err)
	}
}

func TestTopRowsRanking(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	seed := map[string]float64{"five": 5.0, "neg": -2.0, "tie1": 3.3, "tie2": 3.3}
	for mode, score := range seed {
		_, err := db.Exec(`
			INSERT INTO experience_scores (identity, mode, transition_type, context_bucket, score, created_at, updated_at)
			VALUES (?, ?, 'hard_cut', 'default', ?, 0, 0)
		`, ScoreKey{Mode: mode, TransitionType: "hard_cut", ContextBucket: "default"}.identity(), mode, score)
		if err != nil {
			t.Fatalf("seed %s: %v", mode, err)
		}
	}

	rows, err := db.TopRows(ctx, 3)
	if err != nil {
		t.Fatalf("TopRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0].Mode != "five" {
		t.Errorf("rows[0] = %q, want five", rows[0].Mode)
	}
	ties := map[string]bool{rows[1].Mode: true, rows[2].Mode: true}
	if !ties["tie1"] || !ties["tie2"] {
		t.Errorf("rows[1:3] = %q, %q, want both ties", rows[1].Mode, rows[2].Mode)
	}

	again, _ := db.TopRows(ctx, 3)
	for i := range rows {
		if rows[i].Mode != again[i].Mode {
			t.Errorf("order not deterministic at %d: %q vs %q", i, rows[i].Mode, again[i].Mode)
		}
	}
}

func TestTopRowsLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, mode := range []string{"single", "double", "early_cut"} {
		db.ApplyFeedback(ctx, feedback(model.LabelGood, mode, nil, nil))
	}

	rows, err := db.TopRows(ctx, 20)
	if err != nil {
		t.Fatalf("TopRows: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("got %d rows, want 3", len(rows))
	}

	rows, _ = db.TopRows(ctx, 2)
	if len(rows) != 2 {
		t.Errorf("got %d rows with limit 2, want 2", len(rows))
	}
}

func TestTopRowsEmpty(t *testing.T) {
	db := testDB(t)
	rows, err := db.TopRows(context.Background(), 20)
	if err != nil {
		t.Fatalf("TopRows: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %v, want empty non-nil slice", rows)
	}
}

func expectedAllGood(n int) float64 {
	s := 0.0
	for i := 0; i < n; i++ {
		s = s*Decay + 1
	}
	return s
}

func TestConcurrentFeedbackNoLostUpdates(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "autodj.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	const n = 40
	ev := feedback(model.LabelGood, "double", strp("a"), strp("b"))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.ApplyFeedback(ctx, ev)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ApplyFeedback: %v", err)
		}
	}

	s, err := db.GetScore(ctx, KeyOf(ev))
	if err != nil || s == nil {
		t.Fatalf("GetScore: %v, %v", s, err)
	}
	if s.NPositive != n {
		t.Errorf("NPositive = %d, want %d", s.NPositive, n)
	}
	if !almostEqual(s.Score, expectedAllGood(n)) {
		t.Errorf("Score = %v, want %v", s.Score, expectedAllGood(n))
	}
}

func TestConcurrentFeedbackAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autodj.db")
	ctx := context.Background()

	// Two handles stand in for two processes sharing the file.
	db1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db1.Close()
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db2.Close()

	const perHandle = 20
	ev := feedback(model.LabelGood, "fake_drop", nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2*perHandle)
	for _, db := range []*DB{db1, db2} {
		for i := 0; i < perHandle; i++ {
			wg.Add(1)
			go func(db *DB) {
				defer wg.Done()
				errs <- db.ApplyFeedback(ctx, ev)
			}(db)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ApplyFeedback: %v", err)
		}
	}

	s, _ := db1.GetScore(ctx, KeyOf(ev))
	if s == nil || s.NPositive != 2*perHandle {
		t.Fatalf("row = %+v, want n_positive %d", s, 2*perHandle)
	}
	if !almostEqual(s.Score, expectedAllGood(2*perHandle)) {
		t.Errorf("Score = %v, want %v", s.Score, expectedAllGood(2*perHandle))
	}
}

func TestApplyFeedbackCanceledContext(t *testing.T) {
	db := testDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := feedback(model.LabelGood, "single", nil, nil)
	if err := db.ApplyFeedback(ctx, ev); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if s, _ := db.GetScore(context.Background(), KeyOf(ev)); s != nil {
		t.Errorf("row = %+v, want none after canceled apply", s)
	}
}
