package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EpisodeEntry is one finished episode in the run journal.
type EpisodeEntry struct {
	RunID           string
	Index           int
	Goal            string
	OperatingPrompt string
	Constraints     string
	Tips            string
	Transcript      string
	WorldState      string
	// Context is the run context serialized when the episode ended.
	Context    string
	Success    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// EpisodeJournal records every episode of every run.
type EpisodeJournal interface {
	RecordEpisode(ctx context.Context, entry EpisodeEntry) error
	Episodes(ctx context.Context, runID string) ([]EpisodeEntry, error)
}

// SQLiteStore keeps the success table and the episode journal in one
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens/creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path required")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS successful_invocations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		goal TEXT NOT NULL,
		instantiation_prompt TEXT NOT NULL,
		constraints TEXT,
		tips TEXT,
		recorded_at TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS episodes (
		run_id TEXT NOT NULL,
		episode INTEGER NOT NULL,
		goal TEXT NOT NULL,
		operating_prompt TEXT,
		constraints TEXT,
		tips TEXT,
		transcript TEXT,
		world_state TEXT,
		context TEXT,
		success BOOLEAN,
		started_at TIMESTAMP,
		finished_at TIMESTAMP,
		PRIMARY KEY (run_id, episode)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts a success record.
func (s *SQLiteStore) Append(ctx context.Context, record SuccessRecord) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO successful_invocations (goal, instantiation_prompt, constraints, tips, recorded_at)
	VALUES (?, ?, ?, ?, ?)`,
		record.Goal, record.InstantiationPrompt, record.Constraints, record.Tips, time.Now().UTC())
	return err
}

// Records returns success records in insertion order.
func (s *SQLiteStore) Records(ctx context.Context) ([]SuccessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT goal, instantiation_prompt, constraints, tips
	FROM successful_invocations ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []SuccessRecord
	for rows.Next() {
		var r SuccessRecord
		if err := rows.Scan(&r.Goal, &r.InstantiationPrompt, &r.Constraints, &r.Tips); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordEpisode upserts an episode entry.
func (s *SQLiteStore) RecordEpisode(ctx context.Context, entry EpisodeEntry) error {
	if entry.RunID == "" {
		return errors.New("run id required")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO episodes (
		run_id, episode, goal, operating_prompt, constraints, tips,
		transcript, world_state, context, success, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, episode) DO UPDATE SET
		operating_prompt=excluded.operating_prompt,
		constraints=excluded.constraints,
		tips=excluded.tips,
		transcript=excluded.transcript,
		world_state=excluded.world_state,
		context=excluded.context,
		success=excluded.success,
		finished_at=excluded.finished_at`,
		entry.RunID, entry.Index, entry.Goal, entry.OperatingPrompt, entry.Constraints, entry.Tips,
		entry.Transcript, entry.WorldState, entry.Context, entry.Success, entry.StartedAt.UTC(), entry.FinishedAt.UTC())
	return err
}

// Episodes returns the journal of a run ordered by episode.
func (s *SQLiteStore) Episodes(ctx context.Context, runID string) ([]EpisodeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT run_id, episode, goal, operating_prompt, constraints, tips,
		transcript, world_state, COALESCE(context, ''), success, started_at, finished_at
	FROM episodes WHERE run_id = ? ORDER BY episode`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []EpisodeEntry
	for rows.Next() {
		var e EpisodeEntry
		if err := rows.Scan(&e.RunID, &e.Index, &e.Goal, &e.OperatingPrompt, &e.Constraints, &e.Tips,
			&e.Transcript, &e.WorldState, &e.Context, &e.Success, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
