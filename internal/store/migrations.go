package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
	// Apply runs after SQL for changes that need Go-side computation.
	Apply func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		Version:     1,
		Description: "experience_scores: decayed feedback score per decision identity",
		SQL: `
CREATE TABLE IF NOT EXISTS experience_scores (
    identity        TEXT PRIMARY KEY,
    mode            TEXT NOT NULL,
    track_a         TEXT,
    track_b         TEXT,
    transition_type TEXT NOT NULL,
    context_bucket  TEXT NOT NULL,

    score           REAL NOT NULL DEFAULT 0,
    n_positive      INTEGER NOT NULL DEFAULT 0 CHECK (n_positive >= 0),
    n_negative      INTEGER NOT NULL DEFAULT 0 CHECK (n_negative >= 0),

    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "experience_scores: ranking and lookup indexes",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_scores_score ON experience_scores(score DESC, identity);
CREATE INDEX IF NOT EXISTS idx_scores_mode  ON experience_scores(mode, context_bucket);
`,
	},
	{
		Version:     3,
		Description: "experience_scores: re-key identities with the lossless quoted encoding",
		Apply:       rekeyIdentities,
	},
}

// rekeyIdentities rewrites every identity from the row's own key columns.
// New keys are staged behind a '#' prefix first so a rewritten key can never
// collide with an old key that has not been visited yet.
func rekeyIdentities(tx *sql.Tx) error {
	rows, err := tx.Query(`SELECT identity, mode, track_a, track_b, transition_type, context_bucket FROM experience_scores`)
	if err != nil {
		return err
	}
	rekeyed := map[string]string{}
	for rows.Next() {
		var old string
		var k ScoreKey
		var trackA, trackB sql.NullString
		if err := rows.Scan(&old, &k.Mode, &trackA, &trackB, &k.TransitionType, &k.ContextBucket); err != nil {
			rows.Close()
			return err
		}
		if trackA.Valid {
			k.TrackA = &trackA.String
		}
		if trackB.Valid {
			k.TrackB = &trackB.String
		}
		if id := k.identity(); id != old {
			rekeyed[old] = id
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for old, id := range rekeyed {
		if _, err := tx.Exec(`UPDATE experience_scores SET identity = ? WHERE identity = ?`, "#"+id, old); err != nil {
			return err
		}
	}
	if len(rekeyed) > 0 {
		_, err = tx.Exec(`UPDATE experience_scores SET identity = substr(identity, 2) WHERE identity LIKE '#%'`)
	}
	return err
}

// migrate applies pending migrations. Each one runs in an immediate
// transaction and re-checks schema_versions after taking the write lock, so
// two processes opening the same file apply a migration exactly once.
func (db *DB) migrate() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema_versions: %w", err)
	}
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("create schema_versions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema_versions: %w", err)
	}

	for _, m := range migrations {
		if err := db.applyMigration(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) applyMigration(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count); err != nil {
		return fmt.Errorf("check migration %d: %w", m.Version, err)
	}
	if count > 0 {
		return nil
	}

	if m.SQL != "" {
		if _, err := tx.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	if m.Apply != nil {
		if err := m.Apply(tx); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

// LatestSchemaVersion is the version a freshly migrated database reports.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].Version
}
