// Package warehouse is the analytical fallback store for signals and themes, and the
// only source of cross-sectional top-mover rankings.
//
// It runs on gorm: PostgreSQL in production, SQLite for local runs. Unlike the primary
// store it returns errors; the caller decides how to degrade.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gammarips/overnightedge/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// StoreName identifies the warehouse in health reports.
const StoreName = "warehouse"

// Config holds connection settings.
type Config struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Warehouse queries the signal warehouse.
type Warehouse struct {
	db *gorm.DB
}

// Open connects to the warehouse described by cfg.
func Open(cfg Config) (*Warehouse, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get warehouse pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Warehouse{db: db}, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Warehouse {
	return &Warehouse{db: db}
}

// Migrate creates or updates the warehouse tables.
func (w *Warehouse) Migrate() error {
	if err := w.db.AutoMigrate(&signalRow{}, &themeRow{}); err != nil {
		return fmt.Errorf("failed to migrate warehouse: %w", err)
	}
	return nil
}

// Name identifies the store for health probes.
func (w *Warehouse) Name() string { return StoreName }

// Ping checks the warehouse answers.
func (w *Warehouse) Ping(ctx context.Context) error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (w *Warehouse) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// latestDate returns the newest scan date in table, or "" when the table is empty.
func (w *Warehouse) latestDate(ctx context.Context, table string) (string, error) {
	var latest sql.NullString
	err := w.db.WithContext(ctx).Table(table).Select("MAX(scan_date)").Scan(&latest).Error
	if err != nil {
		return "", fmt.Errorf("failed to resolve latest scan date: %w", err)
	}
	return latest.String, nil
}

func (w *Warehouse) resolveDate(ctx context.Context, table, date string) (string, error) {
	if date != models.LatestDate {
		return date, nil
	}
	return w.latestDate(ctx, table)
}

// FetchSignals lists signals for a date ("latest" resolves to the newest scan date),
// best score first, and reports the date that was used.
func (w *Warehouse) FetchSignals(ctx context.Context, q models.SignalQuery) (models.SignalPage, error) {
	date, err := w.resolveDate(ctx, signalRow{}.TableName(), q.Date)
	if err != nil {
		return models.SignalPage{}, err
	}
	page := models.SignalPage{ScanDate: date, Signals: []models.Signal{}}
	if date == "" {
		return page, nil
	}

	tx := w.db.WithContext(ctx).Model(&signalRow{}).Where("scan_date = ?", date)
	if q.Direction != "" && q.Direction != models.AllDirections {
		tx = tx.Where("direction = ?", string(q.Direction))
	}
	if q.MinScore > 0 {
		tx = tx.Where("overnight_score >= ?", q.MinScore)
	}
	tx = tx.Order("overnight_score DESC").Order("ticker ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []signalRow
	if err := tx.Find(&rows).Error; err != nil {
		return models.SignalPage{}, fmt.Errorf("failed to query warehouse signals: %w", err)
	}
	for i := range rows {
		sig, err := rows[i].toModel()
		if err != nil {
			return models.SignalPage{}, err
		}
		page.Signals = append(page.Signals, sig)
	}
	return page, nil
}

// FetchSignalDetail returns the most recently written row for the ticker on date. With
// date "latest" it picks the ticker's newest scan date. The second result is the scan
// date of the row found.
func (w *Warehouse) FetchSignalDetail(ctx context.Context, ticker, date string) (*models.Signal, string, error) {
	tx := w.db.WithContext(ctx).Model(&signalRow{}).Where("ticker = ?", ticker)
	if date != models.LatestDate {
		tx = tx.Where("scan_date = ?", date)
	}

	var rows []signalRow
	err := tx.Order("scan_date DESC").Order("updated_at DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, "", fmt.Errorf("failed to query warehouse signal detail: %w", err)
	}
	if len(rows) == 0 {
		return nil, "", nil
	}
	sig, err := rows[0].toModel()
	if err != nil {
		return nil, "", err
	}
	return &sig, sig.ScanDate, nil
}

// FetchThemes returns the themes for a date ("latest" resolves to the newest date with
// themes) and reports the date used.
func (w *Warehouse) FetchThemes(ctx context.Context, date string) (models.ThemePage, error) {
	resolved, err := w.resolveDate(ctx, themeRow{}.TableName(), date)
	if err != nil {
		return models.ThemePage{}, err
	}
	page := models.ThemePage{ScanDate: resolved, Themes: []models.Theme{}}
	if resolved == "" {
		return page, nil
	}

	var rows []themeRow
	err = w.db.WithContext(ctx).
		Where("scan_date = ?", resolved).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return models.ThemePage{}, fmt.Errorf("failed to query warehouse themes: %w", err)
	}
	for i := range rows {
		page.Themes = append(page.Themes, rows[i].toModel())
	}
	return page, nil
}

const topMoversQuery = `
SELECT ticker, direction, overnight_score, company_name, sector FROM (
	SELECT ticker, direction, overnight_score, company_name, sector,
	       ROW_NUMBER() OVER (PARTITION BY direction ORDER BY overnight_score DESC, ticker ASC) AS rn
	FROM overnight_signals
	WHERE scan_date = ?
) ranked
WHERE rn <= ?
ORDER BY direction, overnight_score DESC, ticker ASC`

// FetchTopMovers ranks the newest scan date's signals and keeps the top count per direction.
func (w *Warehouse) FetchTopMovers(ctx context.Context, count int) (*models.TopMovers, error) {
	date, err := w.latestDate(ctx, signalRow{}.TableName())
	if err != nil {
		return nil, err
	}
	movers := &models.TopMovers{
		ScanDate:   date,
		TopBullish: []models.MoverSummary{},
		TopBearish: []models.MoverSummary{},
	}
	if date == "" {
		return movers, nil
	}

	var rows []moverRow
	if err := w.db.WithContext(ctx).Raw(topMoversQuery, date, count).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query top movers: %w", err)
	}
	for i := range rows {
		m := rows[i].toModel()
		switch m.Direction {
		case models.Bullish:
			movers.TopBullish = append(movers.TopBullish, m)
		case models.Bearish:
			movers.TopBearish = append(movers.TopBearish, m)
		}
	}
	return movers, nil
}

// PutSignal inserts a signal row.
func (w *Warehouse) PutSignal(ctx context.Context, signal *models.Signal) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	row, err := toSignalRow(signal)
	if err != nil {
		return err
	}
	if err := w.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert warehouse signal: %w", err)
	}
	return nil
}

// PutThemeSummary replaces the theme rows for the summary's scan date.
func (w *Warehouse) PutThemeSummary(ctx context.Context, summary *models.ThemeSummary) error {
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("invalid theme summary: %w", err)
	}
	updatedAt := summary.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scan_date = ?", summary.ScanDate).Delete(&themeRow{}).Error; err != nil {
			return fmt.Errorf("failed to clear warehouse themes: %w", err)
		}
		for i, th := range summary.Themes {
			row := &themeRow{
				ScanDate:  summary.ScanDate,
				Position:  i,
				Name:      th.Name,
				Summary:   th.Summary,
				Sentiment: th.Sentiment,
				Tickers:   th.Tickers,
				UpdatedAt: updatedAt,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to insert warehouse theme: %w", err)
			}
		}
		return nil
	})
}
