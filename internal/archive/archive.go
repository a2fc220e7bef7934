// Package archive keeps sessions that were cleared or replaced in a SQLite
// database so they can be listed and restored later.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mfenderov/seqthink/internal/thought"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DefaultListLimit is used by List when no positive limit is given.
const DefaultListLimit = 20

// ErrNotFound is returned when an archive ID does not exist.
var ErrNotFound = errors.New("archive not found")

// Entry describes one archived session.
type Entry struct {
	ID           int64     `json:"id"`
	Reason       string    `json:"reason"`
	ThoughtCount int       `json:"thoughtCount"`
	ArchivedAt   time.Time `json:"archivedAt"`
}

// Archive is a SQLite-backed store of past sessions. It is safe for
// concurrent use.
type Archive struct {
	db       *sqlx.DB
	provider *goose.Provider
	logger   *log.Logger
	now      func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger. Defaults to log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(a *Archive) { a.logger = logger }
}

// Open opens (creating if needed) the archive database at path and applies
// pending schema migrations.
func Open(path string, opts ...Option) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	a := &Archive{db: db, logger: log.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, a.db.DB, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	a.provider = provider

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate archive: %w", err)
	}
	for _, r := range results {
		a.logger.Debug("applied archive migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SchemaVersion returns the applied migration version.
func (a *Archive) SchemaVersion(ctx context.Context) (int64, error) {
	return a.provider.GetDBVersion(ctx)
}

type sessionRow struct {
	ID           int64  `db:"id"`
	Reason       string `db:"reason"`
	ThoughtCount int    `db:"thought_count"`
	ArchivedAt   string `db:"archived_at"`
}

type thoughtRow struct {
	SessionID             int64  `db:"session_id"`
	Position              int    `db:"position"`
	ThoughtID             string `db:"thought_id"`
	Content               string `db:"content"`
	ThoughtNumber         int    `db:"thought_number"`
	TotalThoughts         int    `db:"total_thoughts"`
	NextThoughtNeeded     bool   `db:"next_thought_needed"`
	Stage                 string `db:"stage"`
	Tags                  string `db:"tags"`
	AxiomsUsed            string `db:"axioms_used"`
	AssumptionsChallenged string `db:"assumptions_challenged"`
	CreatedAt             string `db:"created_at"`
}

// ArchiveSession stores thoughts under reason in a single transaction and
// returns the new archive ID.
func (a *Archive) ArchiveSession(reason string, thoughts []thought.Thought) (int64, error) {
	tx, err := a.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO archived_sessions (reason, thought_count, archived_at) VALUES (?, ?, ?)`,
		reason, len(thoughts), a.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to insert archived session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read archive id: %w", err)
	}

	for i, t := range thoughts {
		row, err := toRow(id, i, t)
		if err != nil {
			return 0, err
		}
		_, err = tx.NamedExec(`
			INSERT INTO archived_thoughts (
				session_id, position, thought_id, content, thought_number,
				total_thoughts, next_thought_needed, stage, tags, axioms_used,
				assumptions_challenged, created_at
			) VALUES (
				:session_id, :position, :thought_id, :content, :thought_number,
				:total_thoughts, :next_thought_needed, :stage, :tags, :axioms_used,
				:assumptions_challenged, :created_at
			)`, row)
		if err != nil {
			return 0, fmt.Errorf("failed to insert archived thought %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive: %w", err)
	}
	return id, nil
}

// List returns up to limit archives, newest first.
func (a *Archive) List(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []sessionRow
	err := a.db.Select(&rows, `
		SELECT id, reason, thought_count, archived_at
		FROM archived_sessions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		archivedAt, err := time.Parse(time.RFC3339Nano, r.ArchivedAt)
		if err != nil {
			return nil, fmt.Errorf("archive %d has invalid timestamp: %w", r.ID, err)
		}
		entries = append(entries, Entry{
			ID:           r.ID,
			Reason:       r.Reason,
			ThoughtCount: r.ThoughtCount,
			ArchivedAt:   archivedAt,
		})
	}
	return entries, nil
}

// Thoughts returns the thoughts of archive id in their original order,
// validated against stages.
func (a *Archive) Thoughts(id int64, stages thought.Stages) ([]thought.Thought, error) {
	var sessionID int64
	err := a.db.Get(&sessionID, `SELECT id FROM archived_sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up archive %d: %w", id, err)
	}

	var rows []thoughtRow
	err = a.db.Select(&rows, `
		SELECT * FROM archived_thoughts
		WHERE session_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load archived thoughts: %w", err)
	}

	thoughts := make([]thought.Thought, 0, len(rows))
	for _, r := range rows {
		t, err := fromRow(r, stages)
		if err != nil {
			return nil, fmt.Errorf("archive %d thought %d: %w", id, r.Position, err)
		}
		thoughts = append(thoughts, t)
	}
	return thoughts, nil
}

func toRow(sessionID int64, position int, t thought.Thought) (thoughtRow, error) {
	tags, err := json.Marshal(nonNil(t.Tags))
	if err != nil {
		return thoughtRow{}, err
	}
	axioms, err := json.Marshal(nonNil(t.AxiomsUsed))
	if err != nil {
		return thoughtRow{}, err
	}
	assumptions, err := json.Marshal(nonNil(t.AssumptionsChallenged))
	if err != nil {
		return thoughtRow{}, err
	}

	return thoughtRow{
		SessionID:             sessionID,
		Position:              position,
		ThoughtID:             t.ID,
		Content:               t.Text,
		ThoughtNumber:         t.Number,
		TotalThoughts:         t.Total,
		NextThoughtNeeded:     t.NextNeeded,
		Stage:                 string(t.Stage),
		Tags:                  string(tags),
		AxiomsUsed:            string(axioms),
		AssumptionsChallenged: string(assumptions),
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func fromRow(r thoughtRow, stages thought.Stages) (thought.Thought, error) {
	rec := thought.Record{
		ID:                r.ThoughtID,
		Thought:           &r.Content,
		ThoughtNumber:     &r.ThoughtNumber,
		TotalThoughts:     &r.TotalThoughts,
		NextThoughtNeeded: &r.NextThoughtNeeded,
		Stage:             &r.Stage,
		Timestamp:         r.CreatedAt,
	}
	for _, field := range []struct {
		raw string
		dst *[]string
	}{
		{r.Tags, &rec.Tags},
		{r.AxiomsUsed, &rec.AxiomsUsed},
		{r.AssumptionsChallenged, &rec.AssumptionsChallenged},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return thought.Thought{}, fmt.Errorf("failed to decode list column: %w", err)
		}
	}
	return thought.FromRecord(rec, stages)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
