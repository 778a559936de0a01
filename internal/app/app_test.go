package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	brcfg "backlab/internal/config"
	"backlab/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Fetch(context.Context, market.FetchRequest) ([]market.Candle, error) {
	return nil, nil
}

func testConfig(t *testing.T) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := brcfg.Default()
	cfg.Data.Dir = filepath.Join(dir, "candles")
	cfg.Backtest.ResultsDB = filepath.Join(dir, "results.db")
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func TestNewAppServesHealthz(t *testing.T) {
	a, err := NewApp(testConfig(t), nil, WithSource(stubSource{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stub", a.Summary.Data.Source)
}

func TestNewAppRejectsUnknownSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Source = "options"
	_, err := NewApp(cfg, nil)
	assert.Error(t, err)
}

func TestNewAppNilConfig(t *testing.T) {
	_, err := NewApp(nil, nil)
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	a, err := NewApp(testConfig(t), nil, WithSource(stubSource{}))
	require.NoError(t, err)
	var buf bytes.Buffer
	a.Summary.Out = &buf

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Contains(t, buf.String(), "STARTUP SUMMARY")
	assert.NoError(t, a.Close())
}

func TestProvideSettingsFallsBackToStatic(t *testing.T) {
	cfg := brcfg.Default()
	settings := provideSettings(cfg, nil)
	assert.Same(t, cfg, settings())
}

func TestSummaryPrint(t *testing.T) {
	cfg := brcfg.Default()
	cfg.Data.Symbol = "BTCUSDT"
	cfg.Data.Timeframe = "1h"
	s := newStartupSummary(cfg, nil)
	var buf bytes.Buffer
	s.Out = &buf
	s.Print()

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT, 1h")
	assert.Contains(t, out, "行情源: -")
	assert.Contains(t, out, brcfg.DefaultHTTPAddr)
	assert.Equal(t, "-", formatList([]string{"", " "}))
}
