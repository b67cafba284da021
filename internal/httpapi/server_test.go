package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/monitor"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/storage"
	"github.com/gammarips/overnightedge/internal/tools"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordedCall struct {
	caller signals.Caller
	name   string
	args   map[string]any
}

type fakeDispatcher struct {
	calls  []recordedCall
	result tools.Result
}

func (f *fakeDispatcher) Call(_ context.Context, caller signals.Caller, name string, args map[string]any) tools.Result {
	f.calls = append(f.calls, recordedCall{caller, name, args})
	return f.result
}

type fakeHealth struct{ healthy bool }

func (f fakeHealth) Snapshot() []monitor.StoreHealth {
	return []monitor.StoreHealth{{Store: "mongo", Healthy: f.healthy}}
}
func (f fakeHealth) Healthy() bool { return f.healthy }

func do(t *testing.T, h http.Handler, method, path, tier, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tier != "" {
		req.Header.Set(TierHeader, tier)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthAndReady(t *testing.T) {
	s := NewServer(Config{}, &fakeDispatcher{}, fakeHealth{healthy: false})

	w := do(t, s.Handler(), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status string                `json:"status"`
		Stores []monitor.StoreHealth `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Len(t, body.Stores, 1)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s.Handler(), http.MethodGet, "/ready", "", "").Code)

	healthy := NewServer(Config{}, &fakeDispatcher{}, nil)
	assert.Equal(t, http.StatusOK, do(t, healthy.Handler(), http.MethodGet, "/ready", "", "").Code)
}

func TestListTools(t *testing.T) {
	s := NewServer(Config{}, &fakeDispatcher{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/api/v1/tools", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Tools []tools.Definition `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Tools, 4)
}

func TestCallTool_TierHeaderAndArgs(t *testing.T) {
	tests := []struct {
		header string
		want   models.Tier
	}{
		{"", models.TierFree},
		{"edge", models.TierEdge},
		{" WAR_ROOM ", models.TierWarRoom},
		{"enterprise", models.TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			d := &fakeDispatcher{result: tools.Result{Body: gin.H{"ok": true}}}
			s := NewServer(Config{}, d, nil)
			w := do(t, s.Handler(), http.MethodPost, "/api/v1/tools/get_overnight_signals", tt.header, `{"limit": 3, "direction": "BULLISH"}`)

			require.Equal(t, http.StatusOK, w.Code)
			require.Len(t, d.calls, 1)
			assert.Equal(t, tt.want, d.calls[0].caller.Tier)
			assert.Equal(t, tools.GetOvernightSignals, d.calls[0].name)
			assert.Equal(t, json.Number("3"), d.calls[0].args["limit"])
			assert.Equal(t, "BULLISH", d.calls[0].args["direction"])
		})
	}
}

func TestCallTool_Bodies(t *testing.T) {
	d := &fakeDispatcher{result: tools.Result{Body: gin.H{"ok": true}}}
	s := NewServer(Config{}, d, nil)

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodPost, "/api/v1/tools/get_top_movers", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, "/api/v1/tools/get_top_movers", "", "[1,2]").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s.Handler(), http.MethodPost, "/api/v1/tools/get_top_movers", "", strings.Repeat("x", maxBodySize+10)).Code)
	assert.Len(t, d.calls, 1)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := map[string]int{
		signals.CodeUpgradeRequired:  http.StatusForbidden,
		signals.CodeNotFound:         http.StatusNotFound,
		signals.CodeInvalidArgument:  http.StatusBadRequest,
		signals.CodeStoreUnavailable: http.StatusServiceUnavailable,
		tools.CodeUnknownTool:        http.StatusNotFound,
	}
	for code, status := range tests {
		t.Run(code, func(t *testing.T) {
			d := &fakeDispatcher{result: tools.Result{Body: &signals.Error{Code: code, Message: "m"}, Code: code}}
			s := NewServer(Config{}, d, nil)
			w := do(t, s.Handler(), http.MethodGet, "/api/v1/signals/FSLY", "", "")
			assert.Equal(t, status, w.Code)
			assert.JSONEq(t, `{"error":"`+code+`","message":"m"}`, w.Body.String())
		})
	}
}

func TestConvenienceRoutes(t *testing.T) {
	d := &fakeDispatcher{result: tools.Result{Body: gin.H{}}}
	s := NewServer(Config{}, d, nil)
	h := s.Handler()

	do(t, h, http.MethodGet, "/api/v1/signals?direction=BEARISH&min_score=8&date=2025-01-14", "EDGE", "")
	do(t, h, http.MethodGet, "/api/v1/signals/nvda?date=2025-01-14", "EDGE", "")
	do(t, h, http.MethodGet, "/api/v1/movers?count=10", "", "")
	do(t, h, http.MethodGet, "/api/v1/themes", "", "")

	require.Len(t, d.calls, 4)
	assert.Equal(t, map[string]any{"direction": "BEARISH", "min_score": "8", "date": "2025-01-14"}, d.calls[0].args)
	assert.Equal(t, map[string]any{"ticker": "nvda", "date": "2025-01-14"}, d.calls[1].args)
	assert.Equal(t, tools.GetTopMovers, d.calls[2].name)
	assert.Equal(t, map[string]any{"count": "10"}, d.calls[2].args)
	assert.Equal(t, tools.GetMarketThemes, d.calls[3].name)
	assert.Empty(t, d.calls[3].args)
}

type emptyWarehouse struct{}

func (emptyWarehouse) FetchSignals(context.Context, models.SignalQuery) (models.SignalPage, error) {
	return models.SignalPage{}, nil
}
func (emptyWarehouse) FetchSignalDetail(context.Context, string, string) (*models.Signal, string, error) {
	return nil, "", nil
}
func (emptyWarehouse) FetchThemes(context.Context, string) (models.ThemePage, error) {
	return models.ThemePage{}, nil
}
func (emptyWarehouse) FetchTopMovers(context.Context, int) (*models.TopMovers, error) {
	return &models.TopMovers{}, nil
}

func TestEndToEnd_SQLitePrimary(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	strike := 12.0
	for _, sig := range []*models.Signal{
		{Ticker: "FSLY", ScanDate: "2025-01-15", Direction: models.Bullish, OvernightScore: 9, RecommendedStrike: &strike, CatalystSummary: "beat"},
		{Ticker: "AMD", ScanDate: "2025-01-15", Direction: models.Bullish, OvernightScore: 6},
	} {
		require.NoError(t, store.PutSignal(ctx, sig))
	}

	svc := signals.NewService(store, emptyWarehouse{}, signals.Config{
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) },
	})
	s := NewServer(Config{}, tools.NewDispatcher(svc, nil), nil)

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/signals", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var free map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &free))
	assert.EqualValues(t, 1, free["total_signals"])
	first := free["signals"].([]any)[0].(map[string]any)
	assert.Equal(t, "FSLY", first["ticker"])
	for _, field := range models.PremiumSignalFields {
		assert.NotContains(t, first, field)
	}
	assert.Contains(t, free, "upgrade")

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/signals", "EDGE", "")
	var edge map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &edge))
	assert.EqualValues(t, 2, edge["total_signals"])
	assert.NotContains(t, edge, "upgrade")
	assert.Equal(t, "beat", edge["signals"].([]any)[0].(map[string]any)["catalyst_summary"])

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/signals/fsly", "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = do(t, s.Handler(), http.MethodGet, "/api/v1/signals/ZZZ", "WAR_ROOM", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not_found","message":"Signal not found","ticker":"ZZZ"}`, w.Body.String())
}
