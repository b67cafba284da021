package storage

import (
	"context"
	"testing"
	"time"

	"github.com/gammarips/overnightedge/internal/fetch"
	"github.com/gammarips/overnightedge/internal/models"
	"github.com/google/go-cmp/cmp"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var baseTime = time.Date(2025, 1, 15, 6, 0, 0, 0, time.UTC)

func testSignal(ticker string, dir models.Direction, score int) *models.Signal {
	strike := 100.0
	return &models.Signal{
		Ticker:              ticker,
		ScanDate:            "2025-01-15",
		Direction:           dir,
		OvernightScore:      score,
		UpdatedAt:           baseTime,
		RecommendedContract: ticker + " C100",
		RecommendedStrike:   &strike,
		Technicals:          map[string]any{"rsi": 55.0},
	}
}

func seed(t *testing.T, s *Storage, signals ...*models.Signal) {
	t.Helper()
	for _, sig := range signals {
		if err := s.PutSignal(context.Background(), sig); err != nil {
			t.Fatalf("PutSignal(%s): %v", sig.Ticker, err)
		}
	}
}

func tickers(signals []models.Signal) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = s.Ticker
	}
	return out
}

func TestStorage_FetchSignals_Filters(t *testing.T) {
	s := newTestStorage(t)
	other := testSignal("OLD", models.Bullish, 10)
	other.ScanDate = "2025-01-14"
	seed(t, s,
		testSignal("FSLY", models.Bullish, 9),
		testSignal("AAPL", models.Bearish, 6),
		testSignal("NVDA", models.Bullish, 7),
		testSignal("AMD", models.Bullish, 7),
		other,
	)
	ctx := context.Background()

	tests := []struct {
		name string
		q    models.SignalQuery
		want []string
	}{
		{
			name: "all directions, no score filter",
			q:    models.SignalQuery{Date: "2025-01-15", Direction: models.AllDirections, Limit: 20},
			want: []string{"FSLY", "AMD", "NVDA", "AAPL"},
		},
		{
			name: "direction filter",
			q:    models.SignalQuery{Date: "2025-01-15", Direction: models.Bearish, Limit: 20},
			want: []string{"AAPL"},
		},
		{
			name: "min score filter",
			q:    models.SignalQuery{Date: "2025-01-15", Direction: models.AllDirections, MinScore: 7, Limit: 20},
			want: []string{"FSLY", "AMD", "NVDA"},
		},
		{
			name: "limit truncates",
			q:    models.SignalQuery{Date: "2025-01-15", Direction: models.AllDirections, Limit: 2},
			want: []string{"FSLY", "AMD"},
		},
		{
			name: "no data for date",
			q:    models.SignalQuery{Date: "2025-01-16", Direction: models.AllDirections, Limit: 20},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tickers(s.FetchSignals(ctx, tt.q))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("tickers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStorage_FetchSignals_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	want := testSignal("FSLY", models.Bullish, 9)
	seed(t, s, want)

	got := s.FetchSignals(context.Background(), models.SignalQuery{Date: "2025-01-15", Direction: models.AllDirections, Limit: 1})
	if len(got) != 1 {
		t.Fatalf("got %d signals, want 1", len(got))
	}
	if diff := cmp.Diff(*want, got[0]); diff != "" {
		t.Errorf("signal mismatch (-want +got):\n%s", diff)
	}
}

func TestStorage_FetchSignalDetail_NewestWins(t *testing.T) {
	s := newTestStorage(t)
	older := testSignal("FSLY", models.Bullish, 8)
	newer := testSignal("FSLY", models.Bullish, 9)
	newer.UpdatedAt = baseTime.Add(time.Hour)
	seed(t, s, newer, older)

	got := s.FetchSignalDetail(context.Background(), "FSLY", "2025-01-15")
	if got == nil {
		t.Fatal("expected a signal")
	}
	if got.OvernightScore != 9 {
		t.Errorf("got score %d, want newest document (9)", got.OvernightScore)
	}
}

func TestStorage_FetchSignalDetail_Missing(t *testing.T) {
	s := newTestStorage(t)
	if got := s.FetchSignalDetail(context.Background(), "NOPE", "2025-01-15"); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestStorage_FetchThemes(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	summary := &models.ThemeSummary{
		ScanDate: "2025-01-15",
		Themes:   []models.Theme{{Name: "AI", Tickers: []string{"NVDA", "AMD"}}},
	}
	if err := s.PutThemeSummary(ctx, summary); err != nil {
		t.Fatalf("PutThemeSummary: %v", err)
	}

	got := s.FetchThemes(ctx, "2025-01-15")
	if diff := cmp.Diff(summary.Themes, got); diff != "" {
		t.Errorf("themes mismatch (-want +got):\n%s", diff)
	}

	if missing := s.FetchThemes(ctx, "2025-01-16"); len(missing) != 0 {
		t.Errorf("expected no themes, got %v", missing)
	}
}

func TestStorage_FailureIsSoft(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var failures []*fetch.Failure
	s.SetObserver(fetch.ObserverFunc(func(store string, f *fetch.Failure) {
		if f != nil {
			failures = append(failures, f)
		}
	}))
	_ = s.Close()

	ctx := context.Background()
	if got := s.FetchSignals(ctx, models.SignalQuery{Date: "2025-01-15", Limit: 5}); len(got) != 0 {
		t.Errorf("expected empty result on closed db, got %v", got)
	}
	if got := s.FetchSignalDetail(ctx, "FSLY", "2025-01-15"); got != nil {
		t.Errorf("expected nil detail on closed db, got %+v", got)
	}
	if got := s.FetchThemes(ctx, "2025-01-15"); len(got) != 0 {
		t.Errorf("expected empty themes on closed db, got %v", got)
	}
	if len(failures) != 3 {
		t.Errorf("observer saw %d failures, want 3", len(failures))
	}
	for _, f := range failures {
		if f.Store != StoreName {
			t.Errorf("failure store = %q, want %q", f.Store, StoreName)
		}
	}
}

func TestStorage_PutSignal_Invalid(t *testing.T) {
	s := newTestStorage(t)
	bad := &models.Signal{Ticker: "", ScanDate: "2025-01-15", Direction: models.Bullish}
	if err := s.PutSignal(context.Background(), bad); err == nil {
		t.Error("expected error for invalid signal")
	}
}
