// Package session persists summaries of finished monitoring sessions in
// SQLite.
package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pulse.report/internal/hrv"
	"github.com/banshee-data/pulse.report/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logger = monitoring.NewLogger("[session] ")

var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidRecord = errors.New("invalid session record")
)

// Moods a user may tag a session with.
const (
	MoodRelaxed  = "relaxed"
	MoodNeutral  = "neutral"
	MoodStressed = "stressed"
)

// Record summarises one session.
type Record struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	AvgBPM    hrv.Value `json:"avgBpm"`
	AvgRMSSD  hrv.Value `json:"avgRmssd"`
	AvgSDNN   hrv.Value `json:"avgSdnn"`
	AvgPNN50  hrv.Value `json:"avgPnn50"`
	Source    string    `json:"source"`
	Mood      string    `json:"mood,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Duration is the wall-clock length of the session.
func (r Record) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Validate checks the fields a caller controls.
func (r Record) Validate() error {
	switch {
	case r.StartTime.IsZero() || r.EndTime.IsZero():
		return fmt.Errorf("%w: start and end time are required", ErrInvalidRecord)
	case r.EndTime.Before(r.StartTime):
		return fmt.Errorf("%w: end time %v is before start time %v", ErrInvalidRecord, r.EndTime, r.StartTime)
	case r.Source == "":
		return fmt.Errorf("%w: source is required", ErrInvalidRecord)
	}
	switch r.Mood {
	case "", MoodRelaxed, MoodNeutral, MoodStressed:
	default:
		return fmt.Errorf("%w: unknown mood %q", ErrInvalidRecord, r.Mood)
	}
	return nil
}

// Store is the SQLite-backed session history.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure session database: %w", err)
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Diagf("opened session store %s", path)
	return s, nil
}

// Save inserts or replaces r. An empty ID is filled with a new UUID.
func (s *Store) Save(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, start_unix_ms, end_unix_ms, avg_bpm, avg_rmssd,
			avg_sdnn, avg_pnn50, source, mood, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			start_unix_ms = excluded.start_unix_ms,
			end_unix_ms   = excluded.end_unix_ms,
			avg_bpm       = excluded.avg_bpm,
			avg_rmssd     = excluded.avg_rmssd,
			avg_sdnn      = excluded.avg_sdnn,
			avg_pnn50     = excluded.avg_pnn50,
			source        = excluded.source,
			mood          = excluded.mood,
			notes         = excluded.notes`,
		r.ID, r.StartTime.UnixMilli(), r.EndTime.UnixMilli(),
		nullable(r.AvgBPM), nullable(r.AvgRMSSD), nullable(r.AvgSDNN), nullable(r.AvgPNN50),
		r.Source, r.Mood, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", r.ID, err)
	}
	return nil
}

const selectColumns = `session_id, start_unix_ms, end_unix_ms, avg_bpm, avg_rmssd,
	avg_sdnn, avg_pnn50, source, mood, notes`

// List returns up to limit sessions, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM sessions ORDER BY start_unix_ms DESC, session_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns the session with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM sessions WHERE session_id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Delete removes the session with the given id or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                       Record
		startMs, endMs          int64
		bpm, rmssd, sdnn, pnn50 sql.NullFloat64
	)
	if err := sc.Scan(&r.ID, &startMs, &endMs, &bpm, &rmssd, &sdnn, &pnn50, &r.Source, &r.Mood, &r.Notes); err != nil {
		return Record{}, err
	}
	r.StartTime = time.UnixMilli(startMs).UTC()
	r.EndTime = time.UnixMilli(endMs).UTC()
	r.AvgBPM = fromNull(bpm)
	r.AvgRMSSD = fromNull(rmssd)
	r.AvgSDNN = fromNull(sdnn)
	r.AvgPNN50 = fromNull(pnn50)
	return r, nil
}

func nullable(v hrv.Value) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.V, Valid: v.OK}
}

func fromNull(n sql.NullFloat64) hrv.Value {
	if !n.Valid {
		return hrv.Unavailable
	}
	return hrv.Some(n.Float64)
}
