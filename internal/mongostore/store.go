// Package mongostore is the primary signal store backed by MongoDB.
//
// Signals live one document per (scan_date, ticker) in the signals collection; themes
// live as a list inside one summary document per scan_date. Reads never return errors:
// any fault becomes an empty answer so callers fall back uniformly.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammarips/overnightedge/internal/fetch"
	"github.com/gammarips/overnightedge/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// StoreName identifies this adapter in failure reports.
const StoreName = "mongo"

// Collection is the slice of *mongo.Collection the store reads and writes through.
type Collection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Config holds connection settings.
type Config struct {
	URI               string
	Database          string
	SignalsCollection string
	ThemesCollection  string
	Timeout           time.Duration
}

// Store reads signals and themes from MongoDB.
type Store struct {
	client   *mongo.Client
	signals  Collection
	themes   Collection
	timeout  time.Duration
	observer fetch.Observer
}

// Connect dials MongoDB and returns a Store over the configured collections.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	s := New(db.Collection(cfg.SignalsCollection), db.Collection(cfg.ThemesCollection), cfg.Timeout)
	s.client = client
	return s, nil
}

// New builds a Store over already-opened collections.
func New(signals, themes Collection, timeout time.Duration) *Store {
	return &Store{signals: signals, themes: themes, timeout: timeout}
}

// SetObserver registers the observer told about every read.
func (s *Store) SetObserver(obs fetch.Observer) {
	s.observer = obs
}

// Name identifies the store for health probes.
func (s *Store) Name() string { return StoreName }

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// FetchSignals lists signals for a date, best score first. Failures yield an empty slice.
func (s *Store) FetchSignals(ctx context.Context, q models.SignalQuery) []models.Signal {
	return fetch.Soften(StoreName, s.findSignals(ctx, q), s.observer)
}

// FetchSignalDetail returns the most recently written document for (ticker, date), or nil.
func (s *Store) FetchSignalDetail(ctx context.Context, ticker, date string) *models.Signal {
	return fetch.Soften(StoreName, s.findSignalDetail(ctx, ticker, date), s.observer)
}

// FetchThemes returns the themes embedded in the date's summary document.
func (s *Store) FetchThemes(ctx context.Context, date string) []models.Theme {
	return fetch.Soften(StoreName, s.findThemes(ctx, date), s.observer)
}

// signalFilter mirrors the query semantics: exact date, optional direction, optional floor.
func signalFilter(q models.SignalQuery) bson.D {
	filter := bson.D{{Key: "scan_date", Value: q.Date}}
	if q.Direction != "" && q.Direction != models.AllDirections {
		filter = append(filter, bson.E{Key: "direction", Value: string(q.Direction)})
	}
	if q.MinScore > 0 {
		filter = append(filter, bson.E{Key: "overnight_score", Value: bson.D{{Key: "$gte", Value: q.MinScore}}})
	}
	return filter
}

func (s *Store) findSignals(ctx context.Context, q models.SignalQuery) fetch.Result[[]models.Signal] {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{
		{Key: "overnight_score", Value: -1},
		{Key: "ticker", Value: 1},
	})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.signals.Find(ctx, signalFilter(q), opts)
	if err != nil {
		return fetch.Fail[[]models.Signal](StoreName, "find signals", err)
	}
	signals := []models.Signal{}
	if err := cur.All(ctx, &signals); err != nil {
		return fetch.Fail[[]models.Signal](StoreName, "decode signals", err)
	}
	return fetch.Ok(signals)
}

func (s *Store) findSignalDetail(ctx context.Context, ticker, date string) fetch.Result[*models.Signal] {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.D{{Key: "scan_date", Value: date}, {Key: "ticker", Value: ticker}}
	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var sig models.Signal
	err := s.signals.FindOne(ctx, filter, opts).Decode(&sig)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fetch.Ok[*models.Signal](nil)
	}
	if err != nil {
		return fetch.Fail[*models.Signal](StoreName, "find signal detail", err)
	}
	return fetch.Ok(&sig)
}

func (s *Store) findThemes(ctx context.Context, date string) fetch.Result[[]models.Theme] {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	var summary models.ThemeSummary
	err := s.themes.FindOne(ctx, bson.D{{Key: "scan_date", Value: date}}, opts).Decode(&summary)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fetch.Ok([]models.Theme{})
	}
	if err != nil {
		return fetch.Fail[[]models.Theme](StoreName, "find themes", err)
	}
	if summary.Themes == nil {
		summary.Themes = []models.Theme{}
	}
	return fetch.Ok(summary.Themes)
}

// PutSignal inserts a signal document.
func (s *Store) PutSignal(ctx context.Context, signal *models.Signal) error {
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	if signal.UpdatedAt.IsZero() {
		signal.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.signals.InsertOne(ctx, signal); err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// PutThemeSummary inserts a per-date theme summary document.
func (s *Store) PutThemeSummary(ctx context.Context, summary *models.ThemeSummary) error {
	if err := summary.Validate(); err != nil {
		return fmt.Errorf("invalid theme summary: %w", err)
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}
	if _, err := s.themes.InsertOne(ctx, summary); err != nil {
		return fmt.Errorf("failed to insert theme summary: %w", err)
	}
	return nil
}
