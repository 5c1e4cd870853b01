// Package journal records machine runs in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/chazu/movasm/vm"
)

// ErrEntryNotFound indicates the requested run doesn't exist.
var ErrEntryNotFound = errors.New("journal: entry not found")

// Origins name where a run came from.
const (
	OriginMods = "mods"
	OriginExec = "exec"
	OriginCLI  = "cli"
)

// Entry is one recorded run.
type Entry struct {
	ID        string
	Origin    string
	Digest    string // hex BLAKE2b-256 of the program image
	Steps     uint64
	State     string
	Error     string
	Output    []byte
	Snapshot  []byte // CBOR, see vm.MarshalSnapshot
	CreatedAt time.Time
}

// NewEntry describes a finished run of m, loaded from image. Pending
// output is copied, not drained.
func NewEntry(origin string, image []byte, m *vm.Machine, runErr error) (Entry, error) {
	snap, err := vm.MarshalSnapshot(m.Snapshot())
	if err != nil {
		return Entry{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	e := Entry{
		ID:        uuid.NewString(),
		Origin:    origin,
		Digest:    Digest(image),
		Steps:     m.Steps(),
		State:     m.State().String(),
		Output:    m.Memory().Output(),
		Snapshot:  snap,
		CreatedAt: time.Now(),
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	return e, nil
}

// Digest returns the hex BLAKE2b-256 digest of a program image.
func Digest(image []byte) string {
	sum := blake2b.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// Journal handles SQLite storage for run entries.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		digest TEXT NOT NULL,
		steps INTEGER NOT NULL,
		state TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		output BLOB,
		snapshot BLOB,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Journal{db: db, path: path}, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.path }

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record stores e. An empty ID is filled with a fresh UUID and a zero
// CreatedAt with the current time; the stored entry's ID is returned.
func (j *Journal) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, origin, digest, steps, state, error, output, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Origin, e.Digest, int64(e.Steps), e.State, e.Error, e.Output, e.Snapshot, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return e.ID, nil
}

const selectColumns = `SELECT id, origin, digest, steps, state, error, output, snapshot, created_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e       Entry
		steps   int64
		created int64
	)
	if err := s.Scan(&e.ID, &e.Origin, &e.Digest, &steps, &e.State, &e.Error, &e.Output, &e.Snapshot, &created); err != nil {
		return Entry{}, err
	}
	e.Steps = uint64(steps)
	e.CreatedAt = time.Unix(0, created)
	return e, nil
}

// Get retrieves the entry with the given id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		return Entry{}, fmt.Errorf("querying run: %w", err)
	}
	return e, nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
