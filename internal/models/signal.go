// Package models defines the core domain entities: signals, themes, top movers, and access tiers.
package models

import (
	"errors"
	"regexp"
	"time"
)

// DateLayout is the calendar-date format used for scan dates.
const DateLayout = "2006-01-02"

// LatestDate asks for the most recent scan date.
const LatestDate = "latest"

// Direction classifies a signal as bullish or bearish.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	// AllDirections disables direction filtering in a query.
	AllDirections Direction = "ALL"
)

// Valid reports whether d is BULLISH, BEARISH, or ALL.
func (d Direction) Valid() bool {
	switch d {
	case Bullish, Bearish, AllDirections:
		return true
	}
	return false
}

// PremiumSignalFields lists the serialized names of the attributes reserved for paid tiers.
var PremiumSignalFields = []string{
	"recommended_contract",
	"recommended_strike",
	"recommended_expiration",
	"recommended_mid_price",
	"contract_score",
	"technicals",
	"news",
	"catalyst_summary",
	"flow_details",
}

// NewsItem is a headline attached to a signal.
type NewsItem struct {
	Headline    string `json:"headline" bson:"headline" yaml:"headline"`
	Source      string `json:"source,omitempty" bson:"source,omitempty" yaml:"source"`
	URL         string `json:"url,omitempty" bson:"url,omitempty" yaml:"url"`
	PublishedAt string `json:"published_at,omitempty" bson:"published_at,omitempty" yaml:"published_at"`
}

// Signal is a scored directional conviction record for a ticker on a scan date.
// Keyed by (ScanDate, Ticker). Premium attributes are omitted from JSON when empty,
// so a redacted copy carries none of their keys.
type Signal struct {
	Ticker          string    `json:"ticker" bson:"ticker" yaml:"ticker"`
	ScanDate        string    `json:"scan_date" bson:"scan_date" yaml:"scan_date"`
	Direction       Direction `json:"direction" bson:"direction" yaml:"direction"`
	OvernightScore  int       `json:"overnight_score" bson:"overnight_score" yaml:"overnight_score"`
	CompanyName     string    `json:"company_name,omitempty" bson:"company_name,omitempty" yaml:"company_name"`
	Sector          string    `json:"sector,omitempty" bson:"sector,omitempty" yaml:"sector"`
	UnderlyingPrice float64   `json:"underlying_price,omitempty" bson:"underlying_price,omitempty" yaml:"underlying_price"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at" yaml:"updated_at"`

	RecommendedContract   string         `json:"recommended_contract,omitempty" bson:"recommended_contract,omitempty" yaml:"recommended_contract"`
	RecommendedStrike     *float64       `json:"recommended_strike,omitempty" bson:"recommended_strike,omitempty" yaml:"recommended_strike"`
	RecommendedExpiration string         `json:"recommended_expiration,omitempty" bson:"recommended_expiration,omitempty" yaml:"recommended_expiration"`
	RecommendedMidPrice   *float64       `json:"recommended_mid_price,omitempty" bson:"recommended_mid_price,omitempty" yaml:"recommended_mid_price"`
	ContractScore         *float64       `json:"contract_score,omitempty" bson:"contract_score,omitempty" yaml:"contract_score"`
	Technicals            map[string]any `json:"technicals,omitempty" bson:"technicals,omitempty" yaml:"technicals"`
	News                  []NewsItem     `json:"news,omitempty" bson:"news,omitempty" yaml:"news"`
	CatalystSummary       string         `json:"catalyst_summary,omitempty" bson:"catalyst_summary,omitempty" yaml:"catalyst_summary"`
	FlowDetails           map[string]any `json:"flow_details,omitempty" bson:"flow_details,omitempty" yaml:"flow_details"`
}

// WithoutPremium returns a copy of s with every premium attribute cleared.
// The receiver is a value, so the caller's record is left untouched.
func (s Signal) WithoutPremium() Signal {
	s.RecommendedContract = ""
	s.RecommendedStrike = nil
	s.RecommendedExpiration = ""
	s.RecommendedMidPrice = nil
	s.ContractScore = nil
	s.Technicals = nil
	s.News = nil
	s.CatalystSummary = ""
	s.FlowDetails = nil
	return s
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidDate reports whether date is a YYYY-MM-DD calendar date.
func ValidDate(date string) bool {
	if !datePattern.MatchString(date) {
		return false
	}
	_, err := time.Parse(DateLayout, date)
	return err == nil
}

// Validate checks signal field constraints.
func (s *Signal) Validate() error {
	if s.Ticker == "" {
		return errors.New("signal ticker must not be empty")
	}
	if !ValidDate(s.ScanDate) {
		return errors.New("signal scan date must be YYYY-MM-DD")
	}
	if s.Direction != Bullish && s.Direction != Bearish {
		return errors.New("signal direction must be BULLISH or BEARISH")
	}
	if s.OvernightScore < 0 {
		return errors.New("overnight score must not be negative")
	}
	return nil
}

// Theme is a named grouping of related tickers for a scan date.
type Theme struct {
	Name      string   `json:"name" bson:"name" yaml:"name"`
	Summary   string   `json:"summary,omitempty" bson:"summary,omitempty" yaml:"summary"`
	Sentiment string   `json:"sentiment,omitempty" bson:"sentiment,omitempty" yaml:"sentiment"`
	Tickers   []string `json:"tickers,omitempty" bson:"tickers,omitempty" yaml:"tickers"`
}

// WithoutTickers returns a copy of t with the ticker list removed.
func (t Theme) WithoutTickers() Theme {
	t.Tickers = nil
	return t
}

// ThemeSummary is the per-date record that embeds the theme list.
type ThemeSummary struct {
	ScanDate  string    `json:"scan_date" bson:"scan_date" yaml:"scan_date"`
	Themes    []Theme   `json:"themes" bson:"themes" yaml:"themes"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" yaml:"updated_at"`
}

// Validate checks theme summary constraints.
func (t *ThemeSummary) Validate() error {
	if !ValidDate(t.ScanDate) {
		return errors.New("theme scan date must be YYYY-MM-DD")
	}
	for _, th := range t.Themes {
		if th.Name == "" {
			return errors.New("theme name must not be empty")
		}
	}
	return nil
}

// SignalQuery filters a signal listing. Direction ALL and MinScore 0 disable those filters.
type SignalQuery struct {
	Date      string
	Direction Direction
	MinScore  int
	Limit     int
}

// SignalPage is a warehouse signal listing along with the scan date that satisfied it.
type SignalPage struct {
	ScanDate string
	Signals  []Signal
}

// ThemePage is a warehouse theme listing along with the scan date that satisfied it.
type ThemePage struct {
	ScanDate string
	Themes   []Theme
}

// MoverSummary is the public slice of a signal used in cross-sectional rankings.
type MoverSummary struct {
	Ticker         string    `json:"ticker"`
	Direction      Direction `json:"direction"`
	OvernightScore int       `json:"overnight_score"`
	CompanyName    string    `json:"company_name,omitempty"`
	Sector         string    `json:"sector,omitempty"`
}

// TopMovers ranks the highest-conviction signals per direction for a scan date.
type TopMovers struct {
	ScanDate   string         `json:"scan_date"`
	TopBullish []MoverSummary `json:"top_bullish"`
	TopBearish []MoverSummary `json:"top_bearish"`
}
