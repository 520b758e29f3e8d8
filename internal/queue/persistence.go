package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tones/tones/internal/diagnostics"
	"github.com/tones/tones/internal/provider"
)

const (
	MainFile    = "persistent_queue.db"
	AutomixFile = "persistent_automix.db"
)

// ErrNoSnapshot is returned when nothing has been saved.
var ErrNoSnapshot = errors.New("queue: no saved snapshot")

// Snapshot is the persisted form of a queue.
type Snapshot struct {
	Title    string
	Items    []provider.Track
	Index    int
	Position time.Duration
	Repeat   RepeatMode
}

func (s Snapshot) Empty() bool { return len(s.Items) == 0 }

// Store keeps one snapshot in its own SQLite file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS queue_items (
		position INTEGER PRIMARY KEY,
		track_id TEXT NOT NULL,
		track_json TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS queue_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		title TEXT NOT NULL DEFAULT '',
		current_index INTEGER NOT NULL DEFAULT -1,
		position_ms INTEGER NOT NULL DEFAULT 0,
		repeat_mode INTEGER NOT NULL DEFAULT 0,
		saved_at INTEGER NOT NULL
	);`,
}

// Save writes snap to a fresh database and renames it over the previous
// file, so readers never observe a half-written snapshot.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	_ = os.Remove(tmp)
	if err := write(ctx, tmp, snap); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func write(ctx context.Context, path string, snap Snapshot) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open queue db: %w", err)
	}
	defer db.Close()

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate queue schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO queue_items (position, track_id, track_json) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, track := range snap.Items {
		trackJSON, err := json.Marshal(track)
		if err != nil {
			return fmt.Errorf("marshal track %s: %w", track.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, track.ID, string(trackJSON)); err != nil {
			return fmt.Errorf("insert track %s: %w", track.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queue_state (id, title, current_index, position_ms, repeat_mode, saved_at) VALUES (1, ?, ?, ?, ?, ?)`,
		snap.Title, snap.Index, snap.Position.Milliseconds(), int(snap.Repeat), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("write queue state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields ErrNoSnapshot and is not
// created.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("stat snapshot: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+s.path+"?mode=ro")
	if err != nil {
		return Snapshot{}, fmt.Errorf("open queue db: %w", err)
	}
	defer db.Close()

	snap := Snapshot{Index: -1}
	var positionMs int64
	err = db.QueryRowContext(ctx,
		`SELECT title, current_index, position_ms, repeat_mode FROM queue_state WHERE id = 1`).
		Scan(&snap.Title, &snap.Index, &positionMs, &snap.Repeat)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load queue state: %w", err)
	}
	snap.Position = time.Duration(positionMs) * time.Millisecond

	rows, err := db.QueryContext(ctx, `SELECT track_json FROM queue_items ORDER BY position ASC`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load queue items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackJSON string
		if err := rows.Scan(&trackJSON); err != nil {
			return Snapshot{}, fmt.Errorf("scan track: %w", err)
		}
		var track provider.Track
		if err := json.Unmarshal([]byte(trackJSON), &track); err != nil {
			// Skip corrupted entries
			continue
		}
		snap.Items = append(snap.Items, track)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate tracks: %w", err)
	}

	if snap.Index >= len(snap.Items) {
		snap.Index = len(snap.Items) - 1
		snap.Position = 0
	}
	if snap.Index < 0 && len(snap.Items) > 0 {
		snap.Index = 0
	}
	return snap, nil
}

// Remove deletes the snapshot file. A missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}

type PersisterOptions struct {
	Logger *slog.Logger
	Sink   diagnostics.Sink
}

// Persister saves and restores the main and automix queues, one writer at a
// time.
type Persister struct {
	Main    *Store
	Automix *Store

	logger *slog.Logger
	sink   diagnostics.Sink
	mu     sync.Mutex
}

// NewPersister keeps both snapshot files in dir.
func NewPersister(dir string, opts PersisterOptions) *Persister {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = diagnostics.Nop{}
	}
	return &Persister{
		Main:    NewStore(filepath.Join(dir, MainFile)),
		Automix: NewStore(filepath.Join(dir, AutomixFile)),
		logger:  opts.Logger,
		sink:    opts.Sink,
	}
}

// SaveAll writes both snapshots, waiting for any save already running. An
// empty snapshot removes its file.
func (p *Persister) SaveAll(ctx context.Context, main, automix Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx, main, automix)
}

// TrySaveAll is SaveAll for periodic callers: it returns false without
// writing when another save is in progress.
func (p *Persister) TrySaveAll(ctx context.Context, main, automix Snapshot) (bool, error) {
	if !p.mu.TryLock() {
		return false, nil
	}
	defer p.mu.Unlock()
	return true, p.saveLocked(ctx, main, automix)
}

func (p *Persister) saveLocked(ctx context.Context, main, automix Snapshot) error {
	var errs []error
	for _, job := range []struct {
		store *Store
		snap  Snapshot
	}{{p.Main, main}, {p.Automix, automix}} {
		var err error
		if job.snap.Empty() {
			err = job.store.Remove()
		} else {
			err = job.store.Save(ctx, job.snap)
		}
		if err != nil {
			p.logger.Warn("persist queue failed", slog.String("path", job.store.Path()), slog.Any("err", err))
			p.sink.ReportException(diagnostics.WithOperation(ctx, "persist"), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadAll reads both snapshots. Anything unreadable is reported and comes
// back empty, as if nothing had been saved.
func (p *Persister) LoadAll(ctx context.Context) (main, automix Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(ctx, p.Main), p.load(ctx, p.Automix)
}

func (p *Persister) load(ctx context.Context, s *Store) Snapshot {
	snap, err := s.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			p.logger.Warn("restore queue failed", slog.String("path", s.Path()), slog.Any("err", err))
			p.sink.ReportException(diagnostics.WithOperation(ctx, "restore"), err)
		}
		return Snapshot{Index: -1}
	}
	return snap
}

// RemoveAll deletes both snapshot files.
func (p *Persister) RemoveAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.Main.Remove(), p.Automix.Remove())
}
