package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/autodj/internal/model"
)

const (
	// Decay is applied to the previous score before each new delta.
	Decay = 0.98

	// DefaultTopLimit is used by TopRows when no positive limit is given.
	DefaultTopLimit = 20
)

// ScoreKey is the identity of an experience score row. A nil track means the
// decision had no such track; two nil tracks compare equal.
type ScoreKey struct {
	Mode           string  `json:"mode"`
	TrackA         *string `json:"track_a"`
	TrackB         *string `json:"track_b"`
	TransitionType string  `json:"transition_type"`
	ContextBucket  string  `json:"context_bucket"`
}

// KeyOf returns the identity a feedback event is scored under.
func KeyOf(ev model.FeedbackEvent) ScoreKey {
	return ScoreKey{
		Mode:           ev.DecisionMode,
		TrackA:         ev.TrackA,
		TrackB:         ev.TrackB,
		TransitionType: ev.TransitionType,
		ContextBucket:  ev.Bucket(),
	}
}

// identity encodes the key as a bracketed list of Go-quoted members, with
// absent tracks written as a bare null. strconv.Quote is lossless for any
// byte string, so distinct keys never share an identity, and two absent
// tracks compare equal where SQLite would treat NULL columns as distinct.
func (k ScoreKey) identity() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, m := range []*string{&k.Mode, k.TrackA, k.TrackB, &k.TransitionType, &k.ContextBucket} {
		if i > 0 {
			b.WriteByte(',')
		}
		if m == nil {
			b.WriteString("null")
			continue
		}
		b.WriteString(strconv.Quote(*m))
	}
	b.WriteByte(']')
	return b.String()
}

// ExperienceScore is one row of the score table.
type ExperienceScore struct {
	ScoreKey
	Score     float64 `json:"score"`
	NPositive int     `json:"n_positive"`
	NNegative int     `json:"n_negative"`
}

// ApplyFeedback folds one feedback event into its score row:
// score = previous*Decay + delta, creating the row at score = delta.
//
// The update references the row's own stored value inside an immediate
// transaction, so concurrent writers on the same identity serialize and
// none of them decays a stale score.
func (db *DB) ApplyFeedback(ctx context.Context, ev model.FeedbackEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	delta := ev.Label.Delta()
	var pos, neg int
	if delta > 0 {
		pos = 1
	} else {
		neg = 1
	}

	key := KeyOf(ev)
	now := time.Now().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin apply feedback: %w", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experience_scores (
			identity, mode, track_a, track_b, transition_type, context_bucket,
			score, n_positive, n_negative, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			score      = experience_scores.score * ? + excluded.score,
			n_positive = experience_scores.n_positive + excluded.n_positive,
			n_negative = experience_scores.n_negative + excluded.n_negative,
			updated_at = excluded.updated_at
	`, key.identity(), key.Mode, key.TrackA, key.TrackB, key.TransitionType, key.ContextBucket,
		delta, pos, neg, now, now,
		Decay)
	if err != nil {
		return fmt.Errorf("%w: apply feedback: %w", ErrStorageUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit feedback: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// TopRows returns up to limit rows ordered by score descending, ties broken
// by identity. Scores are rounded to 3 decimals for display; stored values
// keep full precision. A limit <= 0 means DefaultTopLimit.
func (db *DB) TopRows(ctx context.Context, limit int) ([]ExperienceScore, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	rows, err := db.QueryContext(ctx, `
		SELECT mode, track_a, track_b, transition_type, context_bucket, score, n_positive, n_negative
		FROM experience_scores
		ORDER BY score DESC, identity ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: top rows: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	out := []ExperienceScore{}
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		s.Score = round3(s.Score)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: top rows: %w", ErrStorageUnavailable, err)
	}
	return out, nil
}

// GetScore returns the unrounded row for key, or nil if none exists.
func (db *DB) GetScore(ctx context.Context, key ScoreKey) (*ExperienceScore, error) {
	row := db.QueryRowContext(ctx, `
		SELECT mode, track_a, track_b, transition_type, context_bucket, score, n_positive, n_negative
		FROM experience_scores WHERE identity = ?
	`, key.identity())
	s, err := scanScore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountScores returns the number of score rows.
func (db *DB) CountScores(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experience_scores`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count scores: %w", ErrStorageUnavailable, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScore(r scanner) (ExperienceScore, error) {
	var s ExperienceScore
	var trackA, trackB sql.NullString
	err := r.Scan(&s.Mode, &trackA, &trackB, &s.TransitionType, &s.ContextBucket,
		&s.Score, &s.NPositive, &s.NNegative)
	if err == sql.ErrNoRows {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("%w: scan score: %w", ErrStorageUnavailable, err)
	}
	if trackA.Valid {
		s.TrackA = &trackA.String
	}
	if trackB.Valid {
		s.TrackB = &trackB.String
	}
	return s, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
