package warehouse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gammarips/overnightedge/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// signalRow is the warehouse shape of a signal. Contract prices are NUMERIC columns and
// the nested analytics are JSON columns.
type signalRow struct {
	ID                    uint                `gorm:"primaryKey"`
	ScanDate              string              `gorm:"type:varchar(10);not null;index:idx_wh_signals_date_score,priority:1;index:idx_wh_signals_ticker,priority:2"`
	Ticker                string              `gorm:"type:varchar(16);not null;index:idx_wh_signals_ticker,priority:1"`
	Direction             string              `gorm:"type:varchar(8);not null"`
	OvernightScore        int                 `gorm:"not null;index:idx_wh_signals_date_score,priority:2,sort:desc"`
	CompanyName           string              `gorm:"type:varchar(255)"`
	Sector                string              `gorm:"type:varchar(64)"`
	UnderlyingPrice       float64
	RecommendedContract   string              `gorm:"type:varchar(64)"`
	RecommendedStrike     decimal.NullDecimal `gorm:"type:numeric(12,4)"`
	RecommendedExpiration string              `gorm:"type:varchar(10)"`
	RecommendedMidPrice   decimal.NullDecimal `gorm:"type:numeric(12,4)"`
	ContractScore         decimal.NullDecimal `gorm:"type:numeric(6,2)"`
	Technicals            datatypes.JSON
	News                  datatypes.JSON
	CatalystSummary       string `gorm:"type:text"`
	FlowDetails           datatypes.JSON
	UpdatedAt             time.Time
}

func (signalRow) TableName() string {
	return "overnight_signals"
}

// themeRow holds one theme; a scan date's themes are its rows ordered by Position.
type themeRow struct {
	ID        uint                        `gorm:"primaryKey"`
	ScanDate  string                      `gorm:"type:varchar(10);not null;index"`
	Position  int                         `gorm:"not null"`
	Name      string                      `gorm:"type:varchar(255);not null"`
	Summary   string                      `gorm:"type:text"`
	Sentiment string                      `gorm:"type:varchar(16)"`
	Tickers   datatypes.JSONSlice[string] `gorm:"type:json"`
	UpdatedAt time.Time
}

func (themeRow) TableName() string {
	return "market_themes"
}

// moverRow is one line of the ranked top-movers query.
type moverRow struct {
	Ticker         string
	Direction      string
	OvernightScore int
	CompanyName    string
	Sector         string
}

func nullDecimal(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v))
}

func decimalPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func marshalJSON(v any, empty bool) (datatypes.JSON, error) {
	if empty {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func unmarshalJSON(data datatypes.JSON, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func toSignalRow(s *models.Signal) (*signalRow, error) {
	technicals, err := marshalJSON(s.Technicals, s.Technicals == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode technicals: %w", err)
	}
	news, err := marshalJSON(s.News, s.News == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode news: %w", err)
	}
	flow, err := marshalJSON(s.FlowDetails, s.FlowDetails == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow details: %w", err)
	}
	return &signalRow{
		ScanDate:              s.ScanDate,
		Ticker:                s.Ticker,
		Direction:             string(s.Direction),
		OvernightScore:        s.OvernightScore,
		CompanyName:           s.CompanyName,
		Sector:                s.Sector,
		UnderlyingPrice:       s.UnderlyingPrice,
		RecommendedContract:   s.RecommendedContract,
		RecommendedStrike:     nullDecimal(s.RecommendedStrike),
		RecommendedExpiration: s.RecommendedExpiration,
		RecommendedMidPrice:   nullDecimal(s.RecommendedMidPrice),
		ContractScore:         nullDecimal(s.ContractScore),
		Technicals:            technicals,
		News:                  news,
		CatalystSummary:       s.CatalystSummary,
		FlowDetails:           flow,
		UpdatedAt:             s.UpdatedAt,
	}, nil
}

func (r *signalRow) toModel() (models.Signal, error) {
	s := models.Signal{
		Ticker:                r.Ticker,
		ScanDate:              r.ScanDate,
		Direction:             models.Direction(r.Direction),
		OvernightScore:        r.OvernightScore,
		CompanyName:           r.CompanyName,
		Sector:                r.Sector,
		UnderlyingPrice:       r.UnderlyingPrice,
		UpdatedAt:             r.UpdatedAt,
		RecommendedContract:   r.RecommendedContract,
		RecommendedStrike:     decimalPtr(r.RecommendedStrike),
		RecommendedExpiration: r.RecommendedExpiration,
		RecommendedMidPrice:   decimalPtr(r.RecommendedMidPrice),
		ContractScore:         decimalPtr(r.ContractScore),
		CatalystSummary:       r.CatalystSummary,
	}
	if err := unmarshalJSON(r.Technicals, &s.Technicals); err != nil {
		return s, fmt.Errorf("failed to decode technicals for %s: %w", r.Ticker, err)
	}
	if err := unmarshalJSON(r.News, &s.News); err != nil {
		return s, fmt.Errorf("failed to decode news for %s: %w", r.Ticker, err)
	}
	if err := unmarshalJSON(r.FlowDetails, &s.FlowDetails); err != nil {
		return s, fmt.Errorf("failed to decode flow details for %s: %w", r.Ticker, err)
	}
	return s, nil
}

func (r *themeRow) toModel() models.Theme {
	t := models.Theme{
		Name:      r.Name,
		Summary:   r.Summary,
		Sentiment: r.Sentiment,
	}
	if len(r.Tickers) > 0 {
		t.Tickers = []string(r.Tickers)
	}
	return t
}

func (r *moverRow) toModel() models.MoverSummary {
	return models.MoverSummary{
		Ticker:         r.Ticker,
		Direction:      models.Direction(r.Direction),
		OvernightScore: r.OvernightScore,
		CompanyName:    r.CompanyName,
		Sector:         r.Sector,
	}
}
