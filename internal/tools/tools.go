// Package tools exposes the signal operations as named tools with JSON arguments.
// Every transport goes through a Dispatcher, so argument defaults, error bodies,
// and audit records are the same wherever a call comes from.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gammarips/overnightedge/internal/audit"
	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/signals"
)

// Tool names.
const (
	GetOvernightSignals = "get_overnight_signals"
	GetSignalDetail     = "get_signal_detail"
	GetTopMovers        = "get_top_movers"
	GetMarketThemes     = "get_market_themes"
)

// CodeUnknownTool is returned for a tool name the dispatcher does not serve.
const CodeUnknownTool = "unknown_tool"

// Service is the set of operations the tools front.
type Service interface {
	GetOvernightSignals(ctx context.Context, caller signals.Caller, req signals.SignalsRequest) (*signals.SignalsResponse, error)
	GetSignalDetail(ctx context.Context, caller signals.Caller, ticker, date string) (*models.Signal, error)
	GetTopMovers(ctx context.Context, count int) (*models.TopMovers, error)
	GetMarketThemes(ctx context.Context, caller signals.Caller, date string) (*signals.ThemesResponse, error)
}

// Definition describes a tool for discovery.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func dateProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Scan date as YYYY-MM-DD, or \"latest\"",
		"default":     models.LatestDate,
	}
}

// Definitions lists every tool with its argument schema.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        GetOvernightSignals,
			Description: "List overnight options-flow signals for a scan date, best score first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"direction": map[string]any{
						"type":    "string",
						"enum":    []string{"BULLISH", "BEARISH", "ALL"},
						"default": string(signals.DefaultDirection),
					},
					"min_score": map[string]any{
						"type":    "integer",
						"minimum": 0,
						"default": signals.DefaultMinScore,
					},
					"limit": map[string]any{
						"type":    "integer",
						"minimum": 1,
						"default": signals.DefaultLimit,
					},
					"date": dateProperty(),
				},
			},
		},
		{
			Name:        GetSignalDetail,
			Description: "Full signal for one ticker, including the recommended contract, technicals, news, and flow.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ticker": map[string]any{"type": "string", "description": "Ticker symbol"},
					"date":   dateProperty(),
				},
				"required": []string{"ticker"},
			},
		},
		{
			Name:        GetTopMovers,
			Description: "Highest-scoring bullish and bearish signals from the latest scan.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"count": map[string]any{
						"type":    "integer",
						"minimum": 1,
						"maximum": signals.MaxTopMoverCount,
						"default": signals.DefaultTopMoverCount,
					},
				},
			},
		},
		{
			Name:        GetMarketThemes,
			Description: "Market themes identified in a scan.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date": dateProperty(),
				},
			},
		},
	}
}

// Result is the outcome of a tool call. Body is what a transport should serialize.
// Code is empty on success and holds the error code otherwise.
type Result struct {
	Body any
	Code string
}

// IsError reports whether the call produced an error body.
func (r Result) IsError() bool { return r.Code != "" }

// Dispatcher routes tool calls to the service.
type Dispatcher struct {
	svc   Service
	audit audit.Publisher
}

// NewDispatcher creates a Dispatcher. A nil publisher disables auditing.
func NewDispatcher(svc Service, pub audit.Publisher) *Dispatcher {
	if pub == nil {
		pub = audit.Nop{}
	}
	return &Dispatcher{svc: svc, audit: pub}
}

// Call runs the named tool. Failures a caller can act on come back as error bodies.
// Anything else is logged and reported as store_unavailable.
func (d *Dispatcher) Call(ctx context.Context, caller signals.Caller, name string, args map[string]any) Result {
	event := audit.NewEvent(name, string(models.ParseTier(string(caller.Tier))))

	body, err := d.call(ctx, caller, name, args, &event)

	var res Result
	if err != nil {
		var se *signals.Error
		if !errors.As(err, &se) {
			logger.Error("Tool %s failed: %v", name, err)
			se = &signals.Error{Code: signals.CodeStoreUnavailable, Message: "Service temporarily unavailable"}
		}
		res = Result{Body: se, Code: se.Code}
	} else {
		res = Result{Body: body}
	}

	event.Code = res.Code
	d.audit.Publish(event)
	return res
}

func (d *Dispatcher) call(ctx context.Context, caller signals.Caller, name string, args map[string]any, event *audit.Event) (any, error) {
	switch name {
	case GetOvernightSignals:
		req, err := parseSignalsRequest(args)
		if err != nil {
			return nil, err
		}
		resp, err := d.svc.GetOvernightSignals(ctx, caller, req)
		if err != nil {
			return nil, err
		}
		event.ScanDate, event.Count = resp.ScanDate, resp.TotalSignals
		return resp, nil

	case GetSignalDetail:
		ticker, err := stringArg(args, "ticker", "")
		if err != nil {
			return nil, err
		}
		date, err := stringArg(args, "date", models.LatestDate)
		if err != nil {
			return nil, err
		}
		sig, err := d.svc.GetSignalDetail(ctx, caller, ticker, date)
		if err != nil {
			return nil, err
		}
		event.ScanDate, event.Count = sig.ScanDate, 1
		return sig, nil

	case GetTopMovers:
		count, err := intArg(args, "count", signals.DefaultTopMoverCount)
		if err != nil {
			return nil, err
		}
		movers, err := d.svc.GetTopMovers(ctx, count)
		if err != nil {
			return nil, err
		}
		event.ScanDate, event.Count = movers.ScanDate, len(movers.TopBullish)+len(movers.TopBearish)
		return movers, nil

	case GetMarketThemes:
		date, err := stringArg(args, "date", models.LatestDate)
		if err != nil {
			return nil, err
		}
		resp, err := d.svc.GetMarketThemes(ctx, caller, date)
		if err != nil {
			return nil, err
		}
		event.ScanDate, event.Count = resp.ScanDate, len(resp.Themes)
		return resp, nil

	default:
		return nil, &signals.Error{Code: CodeUnknownTool, Message: fmt.Sprintf("Unknown tool: %s", name)}
	}
}

func parseSignalsRequest(args map[string]any) (signals.SignalsRequest, error) {
	req := signals.DefaultSignalsRequest()

	direction, err := stringArg(args, "direction", string(req.Direction))
	if err != nil {
		return req, err
	}
	req.Direction = models.Direction(strings.ToUpper(direction))

	if req.MinScore, err = intArg(args, "min_score", req.MinScore); err != nil {
		return req, err
	}
	if req.Limit, err = intArg(args, "limit", req.Limit); err != nil {
		return req, err
	}
	if req.Date, err = stringArg(args, "date", req.Date); err != nil {
		return req, err
	}
	return req, nil
}

func invalidArg(key, want string) error {
	return &signals.Error{Code: signals.CodeInvalidArgument, Message: fmt.Sprintf("%s must be %s", key, want)}
}

// stringArg reads a string argument. Missing, null, and blank values give def.
func stringArg(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArg(key, "a string")
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}

// intArg reads an integer argument. JSON numbers and numeric strings are both accepted,
// since query strings and chat commands carry everything as text.
func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, invalidArg(key, "an integer")
		}
		return int(n), nil
	case float64:
		// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive.
		if n != math.Trunc(n) || n < math.MinInt || n >= math.MaxInt {
			return 0, invalidArg(key, "an integer")
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < math.MinInt || i > math.MaxInt {
			return 0, invalidArg(key, "an integer")
		}
		return int(i), nil
	case string:
		if strings.TrimSpace(n) == "" {
			return def, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, invalidArg(key, "an integer")
		}
		return i, nil
	default:
		return 0, invalidArg(key, "an integer")
	}
}
