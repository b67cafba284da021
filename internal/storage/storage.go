// Package storage provides an embedded SQLite document store for signals and market themes.
//
// Each record is kept as a JSON document next to the handful of columns queries filter
// on. It serves the same read contract as the hosted document store, so a deployment can
// run fully offline, and it doubles as the target for local fixtures.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gammarips/overnightedge/internal/fetch"
	"github.com/gammarips/overnightedge/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// StoreName identifies this adapter in failure reports.
const StoreName = "sqlite"

// Storage wraps a SQLite database holding signal and theme documents.
type Storage struct {
	db       *sql.DB
	observer fetch.Observer
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/overnightedge/primary.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "overnightedge", "primary.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// SetObserver registers the observer told about every read.
func (s *Storage) SetObserver(obs fetch.Observer) {
	s.observer = obs
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Name identifies the store for health probes.
func (s *Storage) Name() string { return StoreName }

// Ping checks that the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id              TEXT PRIMARY KEY,
			scan_date       TEXT NOT NULL,
			ticker          TEXT NOT NULL,
			direction       TEXT NOT NULL,
			overnight_score INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL,
			doc             TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_themes (
			id         TEXT PRIMARY KEY,
			scan_date  TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			doc        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_date_score ON signals(scan_date, overnight_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_date_ticker ON signals(scan_date, ticker, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_themes_date ON market_themes(scan_date, updated_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// PutSignal stores a signal document. Documents are append-only: writing the same
// (date, ticker) twice keeps both, and reads prefer the newest.
func (s *Storage) PutSignal(ctx context.Context, signal *models.Signal) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	if signal.UpdatedAt.IsZero() {
		signal.UpdatedAt = time.Now()
	}
	doc, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (id, scan_date, ticker, direction, overnight_score, updated_at, doc)
		VALUES (?,?,?,?,?,?,?)`,
		uuid.New().String(), signal.ScanDate, signal.Ticker, string(signal.Direction),
		signal.OvernightScore, signal.UpdatedAt.UnixNano(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// PutThemeSummary stores the per-date theme summary document.
func (s *Storage) PutThemeSummary(ctx context.Context, summary *models.ThemeSummary) error {
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("invalid theme summary: %w", err)
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now()
	}
	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal theme summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO market_themes (id, scan_date, updated_at, doc) VALUES (?,?,?,?)`,
		uuid.New().String(), summary.ScanDate, summary.UpdatedAt.UnixNano(), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to insert theme summary: %w", err)
	}
	return nil
}

// FetchSignals lists signals for a date, best score first. Failures yield an empty slice.
func (s *Storage) FetchSignals(ctx context.Context, q models.SignalQuery) []models.Signal {
	return fetch.Soften(StoreName, s.querySignals(ctx, q), s.observer)
}

// FetchSignalDetail returns the newest document for (ticker, date), or nil.
func (s *Storage) FetchSignalDetail(ctx context.Context, ticker, date string) *models.Signal {
	return fetch.Soften(StoreName, s.querySignalDetail(ctx, ticker, date), s.observer)
}

// FetchThemes returns the themes embedded in the date's summary, or an empty slice.
func (s *Storage) FetchThemes(ctx context.Context, date string) []models.Theme {
	return fetch.Soften(StoreName, s.queryThemes(ctx, date), s.observer)
}

func (s *Storage) querySignals(ctx context.Context, q models.SignalQuery) fetch.Result[[]models.Signal] {
	query := `SELECT doc FROM signals WHERE scan_date = ?`
	args := []any{q.Date}
	if q.Direction != "" && q.Direction != models.AllDirections {
		query += ` AND direction = ?`
		args = append(args, string(q.Direction))
	}
	if q.MinScore > 0 {
		query += ` AND overnight_score >= ?`
		args = append(args, q.MinScore)
	}
	query += ` ORDER BY overnight_score DESC, ticker ASC LIMIT ?`
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fetch.Fail[[]models.Signal](StoreName, "query signals", err)
	}
	defer rows.Close()

	signals := []models.Signal{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return fetch.Fail[[]models.Signal](StoreName, "scan signal", err)
		}
		var sig models.Signal
		if err := json.Unmarshal([]byte(doc), &sig); err != nil {
			return fetch.Fail[[]models.Signal](StoreName, "decode signal", err)
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return fetch.Fail[[]models.Signal](StoreName, "iterate signals", err)
	}
	return fetch.Ok(signals)
}

func (s *Storage) querySignalDetail(ctx context.Context, ticker, date string) fetch.Result[*models.Signal] {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM signals WHERE scan_date = ? AND ticker = ?
		ORDER BY updated_at DESC LIMIT 1`, date, ticker)

	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fetch.Ok[*models.Signal](nil)
	}
	if err != nil {
		return fetch.Fail[*models.Signal](StoreName, "query signal detail", err)
	}
	var sig models.Signal
	if err := json.Unmarshal([]byte(doc), &sig); err != nil {
		return fetch.Fail[*models.Signal](StoreName, "decode signal detail", err)
	}
	return fetch.Ok(&sig)
}

func (s *Storage) queryThemes(ctx context.Context, date string) fetch.Result[[]models.Theme] {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM market_themes WHERE scan_date = ?
		ORDER BY updated_at DESC LIMIT 1`, date)

	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fetch.Ok([]models.Theme{})
	}
	if err != nil {
		return fetch.Fail[[]models.Theme](StoreName, "query themes", err)
	}
	var summary models.ThemeSummary
	if err := json.Unmarshal([]byte(doc), &summary); err != nil {
		return fetch.Fail[[]models.Theme](StoreName, "decode themes", err)
	}
	if summary.Themes == nil {
		summary.Themes = []models.Theme{}
	}
	return fetch.Ok(summary.Themes)
}
