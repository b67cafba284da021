package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/storage"
	"github.com/gammarips/overnightedge/internal/warehouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
signals:
  - ticker: FSLY
    scan_date: "2025-01-15"
    direction: BULLISH
    overnight_score: 9
  - ticker: AAPL
    scan_date: "2025-01-15"
    direction: BEARISH
    overnight_score: 6
themes:
  - scan_date: "2025-01-15"
    themes:
      - name: AI
        tickers: [NVDA]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"mcp", "http", "bot", "seed"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "configs/config.yaml", flag.DefValue)
}

func TestSeed_RequiresFixture(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"seed"})
	root.SetOut(new(nopWriter))
	root.SetErr(new(nopWriter))
	assert.Error(t, root.Execute())
}

func TestRunSeed_WritesBothStores(t *testing.T) {
	dir := t.TempDir()
	primaryPath := filepath.Join(dir, "primary.db")
	warehousePath := filepath.Join(dir, "warehouse.db")
	configPath := writeFile(t, dir, "config.yaml", `
primary:
  driver: sqlite
  sqlite:
    path: `+primaryPath+`
warehouse:
  driver: sqlite
  dsn: `+warehousePath+`
  auto_migrate: true
monitor:
  enabled: false
logging:
  level: error
`)
	fixturePath := writeFile(t, dir, "fixture.yaml", fixture)

	ctx := context.Background()
	require.NoError(t, runSeed(ctx, configPath, fixturePath, true))

	store, err := storage.New(primaryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	got := store.FetchSignals(ctx, models.SignalQuery{Date: "2025-01-15", Direction: models.AllDirections, Limit: 10})
	require.Len(t, got, 2)
	assert.Equal(t, "FSLY", got[0].Ticker)
	assert.Len(t, store.FetchThemes(ctx, "2025-01-15"), 1)

	wh, err := warehouse.Open(warehouse.Config{Driver: "sqlite", DSN: warehousePath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = wh.Close() })
	page, err := wh.FetchSignals(ctx, models.SignalQuery{Date: models.LatestDate, Direction: models.AllDirections, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", page.ScanDate)
	assert.Len(t, page.Signals, 2)
}

func TestRunSeed_BadFixture(t *testing.T) {
	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", `
primary:
  sqlite:
    path: `+filepath.Join(dir, "primary.db")+`
warehouse:
  dsn: `+filepath.Join(dir, "warehouse.db")+`
logging:
  level: error
`)
	fixturePath := writeFile(t, dir, "fixture.yaml", "signals:\n  - ticker: ''\n")

	assert.Error(t, runSeed(context.Background(), configPath, fixturePath, false))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
