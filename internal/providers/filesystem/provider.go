package filesystem

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	_ "modernc.org/sqlite"

	"github.com/tones/tones/internal/logging"
	"github.com/tones/tones/internal/provider"
)

var allowedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
	".wav":  true,
	".opus": true,
}

type Config struct {
	Roots      []string
	IndexDB    string
	ScanOnInit bool
	PageSize   int
	// ProbeDurations runs ffprobe on every file during a scan.
	ProbeDurations bool
}

type Provider struct {
	cfg    Config
	db     *sql.DB
	logger *slog.Logger
}

func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger}
}

func (p *Provider) ID() string   { return "filesystem" }
func (p *Provider) Name() string { return "Filesystem" }

func (p *Provider) Capabilities() provider.Capabilities {
	return provider.Capabilities{provider.CapLyrics: true, provider.CapLoudness: true}
}

func (p *Provider) Initialize(ctx context.Context, profileCfg any) error {
	mapCfg, ok := profileCfg.(map[string]any)
	if !ok {
		return provider.ErrInvalidConfig
	}
	cfg, err := parseConfig(mapCfg)
	if err != nil {
		return err
	}
	p.cfg = cfg
	db, err := sql.Open("sqlite", cfg.IndexDB)
	if err != nil {
		return fmt.Errorf("open index db: %w", err)
	}
	p.db = db
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	shouldScan := cfg.ScanOnInit
	if !shouldScan {
		var count int
		if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&count); err != nil || count == 0 {
			shouldScan = true
		}
	}
	if shouldScan {
		return p.Scan(ctx)
	}
	return nil
}

// Close releases the index database.
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func parseConfig(raw map[string]any) (Config, error) {
	cfg := Config{PageSize: 100}
	if v, ok := raw["roots"].([]any); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				cfg.Roots = append(cfg.Roots, s)
			}
		}
	}
	if v, ok := raw["index_db"].(string); ok && v != "" {
		cfg.IndexDB = v
	}
	if v, ok := raw["scan_on_start"].(bool); ok {
		cfg.ScanOnInit = v
	}
	if v, ok := raw["probe_durations"].(bool); ok {
		cfg.ProbeDurations = v
	}
	switch v := raw["page_size"].(type) {
	case int64:
		if v > 0 {
			cfg.PageSize = int(v)
		}
	case int:
		if v > 0 {
			cfg.PageSize = v
		}
	}
	if cfg.IndexDB == "" {
		stateDir, err := logging.StateDir()
		if err != nil {
			stateDir = os.TempDir()
		}
		if err := os.MkdirAll(stateDir, 0o755); err != nil {
			return Config{}, fmt.Errorf("create state dir: %w", err)
		}
		cfg.IndexDB = filepath.Join(stateDir, "filesystem.sqlite")
	}
	for i, r := range cfg.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return Config{}, err
		}
		cfg.Roots[i] = abs
	}
	return cfg, nil
}

func (p *Provider) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS tracks (
			id TEXT PRIMARY KEY,
			album_id TEXT NOT NULL,
			artist_id TEXT NOT NULL,
			title TEXT NOT NULL,
			album_title TEXT NOT NULL,
			artist_name TEXT NOT NULL,
			track_number INTEGER,
			disc_number INTEGER,
			duration_ms INTEGER,
			file_path TEXT NOT NULL UNIQUE,
			file_size INTEGER,
			file_mtime INTEGER,
			codec TEXT,
			explicit INTEGER NOT NULL DEFAULT 0,
			loudness_db REAL,
			lyrics TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_album ON tracks(album_id, disc_number, track_number);`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist_id, album_title);`,
	}
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func hash(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Scan rebuilds the index from the configured roots. Unreadable files are
// skipped.
func (p *Provider) Scan(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracks`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	insert, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO tracks(id,album_id,artist_id,title,album_title,artist_name,track_number,disc_number,duration_ms,file_path,file_size,file_mtime,codec,explicit,loudness_db,lyrics) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	indexed := 0
	for _, root := range p.cfg.Roots {
		walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !allowedExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			e := p.readEntry(path)
			var loudness any
			if e.loudnessDb != nil {
				loudness = *e.loudnessDb
			}
			if _, err := insert.ExecContext(ctx, hash(path), e.albumID(), e.artistID(), e.title, e.album, e.artist,
				e.trackNo, e.discNo, e.durationMs, path, info.Size(), info.ModTime().Unix(), e.codec,
				e.explicit, loudness, e.lyrics); err != nil {
				p.logger.Warn("index track", slog.String("path", path), slog.Any("err", err))
				return nil
			}
			indexed++
			return nil
		})
		if walkErr != nil {
			return fmt.Errorf("scan %s: %w", root, walkErr)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scan: %w", err)
	}
	p.logger.Info("library indexed", slog.Int("tracks", indexed))
	return nil
}

type entry struct {
	title, album, artist string
	trackNo, discNo      int
	durationMs           int
	codec                string
	explicit             bool
	loudnessDb           *float64
	lyrics               string
}

func (e entry) artistID() string { return hash(strings.ToLower(e.artist)) }
func (e entry) albumID() string  { return hash(e.artistID(), strings.ToLower(e.album)) }

func (p *Provider) readEntry(path string) entry {
	var e entry
	if f, err := os.Open(path); err == nil {
		if meta, err := tag.ReadFrom(f); err == nil {
			e.title = meta.Title()
			e.album = meta.Album()
			e.artist = meta.Artist()
			e.trackNo, _ = meta.Track()
			e.discNo, _ = meta.Disc()
			e.codec = string(meta.FileType())
			e.lyrics = strings.TrimSpace(meta.Lyrics())
			raw := meta.Raw()
			e.loudnessDb = loudnessFromRaw(raw)
			e.explicit = explicitFromRaw(raw)
		}
		f.Close()
	}
	if e.artist == "" {
		e.artist = "Unknown Artist"
	}
	if e.album == "" {
		e.album = filepath.Base(filepath.Dir(path))
		if e.album == "." || e.album == "/" {
			e.album = "Unknown Album"
		}
	}
	if e.title == "" {
		e.title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if p.cfg.ProbeDurations {
		e.durationMs = getDurationMs(path)
	}
	return e
}

func (p *Provider) Health(ctx context.Context) (bool, string) {
	if p.db == nil {
		return false, "db not initialized"
	}
	if err := p.db.PingContext(ctx); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

const trackColumns = `id,title,artist_id,artist_name,album_id,album_title,duration_ms,track_number,disc_number,codec,explicit,loudness_db`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (provider.Track, error) {
	var t provider.Track
	var loudness sql.NullFloat64
	var codec sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &t.ArtistID, &t.ArtistName, &t.AlbumID, &t.AlbumTitle, &t.DurationMs, &t.TrackNo, &t.DiscNo, &codec, &t.Explicit, &loudness); err != nil {
		return provider.Track{}, err
	}
	t.Codec = codec.String
	if loudness.Valid {
		v := loudness.Float64
		t.LoudnessDb = &v
	}
	return t, nil
}

func (p *Provider) ListTracks(ctx context.Context, q provider.TrackQuery, req provider.ListReq) (provider.Page[provider.Track], error) {
	if q.PlaylistID != "" {
		return provider.Page[provider.Track]{}, provider.ErrNotSupported
	}
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = p.cfg.PageSize
	}
	offset := parseCursor(req.Cursor)
	query := `SELECT ` + trackColumns + ` FROM tracks `
	var args []any
	var clauses []string
	if q.AlbumID != "" {
		clauses = append(clauses, "album_id=?")
		args = append(args, q.AlbumID)
	}
	if q.ArtistID != "" {
		clauses = append(clauses, "artist_id=?")
		args = append(args, q.ArtistID)
	}
	if q.Search != "" {
		pattern := "%" + strings.ToLower(q.Search) + "%"
		clauses = append(clauses, "(lower(title) LIKE ? OR lower(artist_name) LIKE ? OR lower(album_title) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	if len(clauses) > 0 {
		query += "WHERE " + strings.Join(clauses, " AND ") + " "
	}
	query += `ORDER BY artist_name, album_title, disc_number, track_number, title LIMIT ? OFFSET ?`
	args = append(args, pageSize+1, offset)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return provider.Page[provider.Track]{}, err
	}
	defer rows.Close()
	var items []provider.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return provider.Page[provider.Track]{}, err
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return provider.Page[provider.Track]{}, err
	}
	next := ""
	if len(items) > pageSize {
		next = fmt.Sprintf("%d", offset+pageSize)
		items = items[:pageSize]
	}
	return provider.Page[provider.Track]{Items: items, NextCursor: next, TotalHint: -1}, nil
}

func (p *Provider) GetTrack(ctx context.Context, id string) (provider.Track, error) {
	t, err := scanTrack(p.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id=?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provider.Track{}, provider.ErrNotFound
		}
		return provider.Track{}, err
	}
	return t, nil
}

func (p *Provider) GetStream(ctx context.Context, trackId string) (provider.StreamInfo, error) {
	var path string
	err := p.db.QueryRowContext(ctx, `SELECT file_path FROM tracks WHERE id=?`, trackId).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provider.StreamInfo{}, provider.ErrNotFound
		}
		return provider.StreamInfo{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return provider.StreamInfo{}, fmt.Errorf("track missing: %w", err)
	}
	u := url.URL{Scheme: "file", Path: path}
	return provider.StreamInfo{URL: u.String()}, nil
}

// GetLyrics returns lyrics embedded in the file's tags.
func (p *Provider) GetLyrics(ctx context.Context, trackId string) (provider.Lyrics, error) {
	var text string
	err := p.db.QueryRowContext(ctx, `SELECT lyrics FROM tracks WHERE id=?`, trackId).Scan(&text)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return provider.Lyrics{}, provider.ErrNotFound
		}
		return provider.Lyrics{}, err
	}
	if text == "" {
		return provider.Lyrics{}, provider.ErrNotFound
	}
	return provider.Lyrics{Text: text}, nil
}

func parseCursor(cur string) int {
	var off int
	if cur != "" {
		fmt.Sscanf(cur, "%d", &off)
	}
	return off
}

// getDurationMs uses ffprobe to get audio duration in milliseconds
func getDurationMs(path string) int {
	cmd := exec.Command("ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err == nil {
		var result struct {
			Format struct {
				Duration string `json:"duration"`
			} `json:"format"`
		}
		if json.Unmarshal(out, &result) == nil && result.Format.Duration != "" {
			var secs float64
			fmt.Sscanf(result.Format.Duration, "%f", &secs)
			return int(secs * 1000)
		}
	}
	return 0
}
