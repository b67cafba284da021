// Package fixtures loads signal and theme fixtures from YAML into a store, for local
// development against an empty database.
package fixtures

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/models"
	"gopkg.in/yaml.v3"
)

// Writer is a store fixtures can be written to.
type Writer interface {
	PutSignal(ctx context.Context, signal *models.Signal) error
	PutThemeSummary(ctx context.Context, summary *models.ThemeSummary) error
}

// File is the fixture document layout.
type File struct {
	Signals []models.Signal       `yaml:"signals"`
	Themes  []models.ThemeSummary `yaml:"themes"`
}

// Stats counts what Apply wrote.
type Stats struct {
	Signals int
	Themes  int
}

// Load reads and parses a fixture file.
func Load(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(content)
}

// Parse decodes fixture YAML and validates every record. Unknown keys are rejected so
// typos surface instead of silently loading empty fields.
func Parse(content []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	for i := range f.Signals {
		if err := f.Signals[i].Validate(); err != nil {
			return nil, fmt.Errorf("signal %d (%s): %w", i, f.Signals[i].Ticker, err)
		}
	}
	for i := range f.Themes {
		if err := f.Themes[i].Validate(); err != nil {
			return nil, fmt.Errorf("theme summary %d: %w", i, err)
		}
	}
	return &f, nil
}

// Apply writes every record in f to w. Records without a write time are stamped with now.
func Apply(ctx context.Context, w Writer, f *File, now time.Time) (Stats, error) {
	var stats Stats
	for i := range f.Signals {
		s := f.Signals[i]
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
		if err := w.PutSignal(ctx, &s); err != nil {
			return stats, fmt.Errorf("failed to write signal %s/%s: %w", s.ScanDate, s.Ticker, err)
		}
		stats.Signals++
	}
	for i := range f.Themes {
		t := f.Themes[i]
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		if err := w.PutThemeSummary(ctx, &t); err != nil {
			return stats, fmt.Errorf("failed to write themes for %s: %w", t.ScanDate, err)
		}
		stats.Themes++
	}
	logger.Info("Loaded %d signals and %d theme summaries", stats.Signals, stats.Themes)
	return stats, nil
}
