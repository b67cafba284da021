// Package signals serves overnight signal data under tier-based access rules.
//
// Every read follows the same path: resolve the caller's tier, tighten the request,
// ask the primary store, fall back to the warehouse when the primary has nothing,
// redact what the tier may not see, and attach an upgrade prompt for restricted tiers.
package signals

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/models"
	"golang.org/x/sync/singleflight"
)

// Primary is the low-latency document store. Its reads never fail: a fault or a miss
// both come back empty.
type Primary interface {
	FetchSignals(ctx context.Context, q models.SignalQuery) []models.Signal
	FetchSignalDetail(ctx context.Context, ticker, date string) *models.Signal
	FetchThemes(ctx context.Context, date string) []models.Theme
}

// Warehouse is the analytical fallback store. Its pages report the scan date that
// satisfied the query, which may differ from the date asked for when it was "latest".
type Warehouse interface {
	FetchSignals(ctx context.Context, q models.SignalQuery) (models.SignalPage, error)
	FetchSignalDetail(ctx context.Context, ticker, date string) (*models.Signal, string, error)
	FetchThemes(ctx context.Context, date string) (models.ThemePage, error)
	FetchTopMovers(ctx context.Context, count int) (*models.TopMovers, error)
}

// Caller identifies who is asking. The zero value is the most restricted tier.
type Caller struct {
	Tier models.Tier
}

// Defaults for request parameters.
const (
	DefaultDirection     = models.AllDirections
	DefaultMinScore      = 5
	DefaultLimit         = 20
	DefaultTopMoverCount = 5
	MaxTopMoverCount     = 50
	DefaultPricingURL    = "https://gammarips.com/#pricing"
)

// SignalsRequest holds the listing parameters.
type SignalsRequest struct {
	Direction models.Direction
	MinScore  int
	Limit     int
	Date      string
}

// DefaultSignalsRequest returns a request carrying every default.
func DefaultSignalsRequest() SignalsRequest {
	return SignalsRequest{
		Direction: DefaultDirection,
		MinScore:  DefaultMinScore,
		Limit:     DefaultLimit,
		Date:      models.LatestDate,
	}
}

// Plan is one paid offering named in an upgrade prompt.
type Plan struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	URL   string `json:"url"`
}

// Upgrade is the upgrade prompt attached for restricted tiers.
type Upgrade struct {
	Message string `json:"message"`
	Plans   []Plan `json:"plans"`
}

// SignalsResponse is the listing returned by GetOvernightSignals.
type SignalsResponse struct {
	ScanDate     string          `json:"scan_date"`
	TotalSignals int             `json:"total_signals"`
	Signals      []models.Signal `json:"signals"`
	Upgrade      *Upgrade        `json:"upgrade,omitempty"`
}

// ThemesResponse is the listing returned by GetMarketThemes.
type ThemesResponse struct {
	ScanDate string         `json:"scan_date"`
	Themes   []models.Theme `json:"themes"`
}

// Config tunes a Service.
type Config struct {
	// Location is the calendar used to turn "latest" into a date. Defaults to time.Local.
	Location *time.Location
	// PricingURL is linked from upgrade prompts.
	PricingURL string
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service applies the tiered access policy over a primary store and a warehouse.
type Service struct {
	primary    Primary
	warehouse  Warehouse
	loc        *time.Location
	pricingURL string
	now        func() time.Time
	movers     singleflight.Group
}

// NewService creates a Service.
func NewService(primary Primary, warehouse Warehouse, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.PricingURL == "" {
		cfg.PricingURL = DefaultPricingURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		primary:    primary,
		warehouse:  warehouse,
		loc:        cfg.Location,
		pricingURL: cfg.PricingURL,
		now:        cfg.Now,
	}
}

// resolveDate turns "latest" into today's calendar date. It is always today, never the
// newest date that has data; the warehouse fallback covers the gap.
func (s *Service) resolveDate(date string) string {
	if date == models.LatestDate {
		return s.now().In(s.loc).Format(models.DateLayout)
	}
	return date
}

func normalizeDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if date == "" || strings.EqualFold(date, models.LatestDate) {
		return models.LatestDate, nil
	}
	if !models.ValidDate(date) {
		return "", &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf("date must be YYYY-MM-DD or %q", models.LatestDate)}
	}
	return date, nil
}

func (s *Service) plans() []Plan {
	return []Plan{
		{Name: "The Overnight Edge", Price: "$49/mo", URL: s.pricingURL},
		{Name: "The War Room", Price: "$149/mo", URL: s.pricingURL},
	}
}

// GetOvernightSignals lists the overnight signals visible to caller.
func (s *Service) GetOvernightSignals(ctx context.Context, caller Caller, req SignalsRequest) (*SignalsResponse, error) {
	policy := PolicyFor(caller.Tier)

	req.Direction = models.Direction(strings.ToUpper(strings.TrimSpace(string(req.Direction))))
	if req.Direction == "" {
		req.Direction = DefaultDirection
	}
	if !req.Direction.Valid() {
		return nil, &Error{Code: CodeInvalidArgument, Message: "direction must be BULLISH, BEARISH, or ALL"}
	}
	date, err := normalizeDate(req.Date)
	if err != nil {
		return nil, err
	}
	req.Date = date
	if req.MinScore < 0 {
		req.MinScore = 0
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}

	req = policy.Tighten(req)
	queryDate := s.resolveDate(req.Date)

	signals := s.primary.FetchSignals(ctx, models.SignalQuery{
		Date:      queryDate,
		Direction: req.Direction,
		MinScore:  req.MinScore,
		Limit:     req.Limit,
	})

	if len(signals) == 0 {
		logger.Info("No signals in primary store for %s, trying warehouse", queryDate)
		page, err := s.warehouse.FetchSignals(ctx, models.SignalQuery{
			Date:      req.Date,
			Direction: req.Direction,
			MinScore:  req.MinScore,
			Limit:     req.Limit,
		})
		if err != nil {
			logger.Warn("Warehouse signal fallback failed for %s: %v", req.Date, err)
		} else {
			signals = page.Signals
			if page.ScanDate != "" {
				queryDate = page.ScanDate
			}
		}
	}

	signals = policy.RedactSignals(signals)
	if signals == nil {
		signals = []models.Signal{}
	}

	resp := &SignalsResponse{
		ScanDate:     queryDate,
		TotalSignals: len(signals),
		Signals:      signals,
	}
	if policy.UpgradePrompt {
		resp.Upgrade = &Upgrade{
			Message: fmt.Sprintf("You're seeing %d signals (score %d+ only). Unlock all signals, contracts, technicals & AI analysis.",
				len(signals), policy.MinScoreFloor),
			Plans: s.plans(),
		}
	}
	return resp, nil
}

// GetSignalDetail returns the full signal for ticker. Restricted tiers are refused
// before any store is queried.
func (s *Service) GetSignalDetail(ctx context.Context, caller Caller, ticker, date string) (*models.Signal, error) {
	policy := PolicyFor(caller.Tier)
	if !policy.DetailAllowed {
		return nil, &Error{
			Code:    CodeUpgradeRequired,
			Message: "Signal deep dives require The Overnight Edge ($49/mo)",
			URL:     s.pricingURL,
		}
	}

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, &Error{Code: CodeInvalidArgument, Message: "ticker is required"}
	}
	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}

	signal := s.primary.FetchSignalDetail(ctx, ticker, s.resolveDate(date))
	if signal == nil {
		found, _, err := s.warehouse.FetchSignalDetail(ctx, ticker, date)
		if err != nil {
			logger.Warn("Warehouse detail fallback failed for %s: %v", ticker, err)
		}
		signal = found
	}
	if signal == nil {
		return nil, &Error{Code: CodeNotFound, Message: "Signal not found", Ticker: ticker}
	}
	return signal, nil
}

// GetTopMovers returns the highest-conviction signals per direction. It is the same for
// every tier. Concurrent calls for the same count share one warehouse query.
// A cancelled caller gets its context error; the others keep waiting for the result.
func (s *Service) GetTopMovers(ctx context.Context, count int) (*models.TopMovers, error) {
	if count <= 0 {
		count = DefaultTopMoverCount
	}
	if count > MaxTopMoverCount {
		count = MaxTopMoverCount
	}

	// The shared query must outlive whichever caller started it; each caller still
	// stops waiting when its own context ends.
	ch := s.movers.DoChan(strconv.Itoa(count), func() (interface{}, error) {
		return s.warehouse.FetchTopMovers(context.WithoutCancel(ctx), count)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			logger.Error("Top movers query failed: %v", res.Err)
			return nil, &Error{Code: CodeStoreUnavailable, Message: "Top movers are temporarily unavailable"}
		}
		return res.Val.(*models.TopMovers), nil
	}
}

// GetMarketThemes returns the market themes for date. Restricted tiers get the themes
// without their ticker lists.
func (s *Service) GetMarketThemes(ctx context.Context, caller Caller, date string) (*ThemesResponse, error) {
	policy := PolicyFor(caller.Tier)

	date, err := normalizeDate(date)
	if err != nil {
		return nil, err
	}
	queryDate := s.resolveDate(date)

	themes := s.primary.FetchThemes(ctx, queryDate)
	if len(themes) == 0 {
		page, err := s.warehouse.FetchThemes(ctx, date)
		if err != nil {
			logger.Warn("Warehouse theme fallback failed for %s: %v", date, err)
		} else {
			themes = page.Themes
			if page.ScanDate != "" {
				queryDate = page.ScanDate
			}
		}
	}

	themes = policy.RedactThemes(themes)
	if themes == nil {
		themes = []models.Theme{}
	}
	return &ThemesResponse{ScanDate: queryDate, Themes: themes}, nil
}
