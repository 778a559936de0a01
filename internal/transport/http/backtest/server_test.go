package backtesthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/config"
	"backlab/internal/market"
	"backlab/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs = int64(3_600_000)

type fixture struct {
	srv     *Server
	candles *market.Store
	runs    *gormstore.GormStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	candles, err := market.NewStore(filepath.Join(dir, "candles"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = candles.Close() })
	runs, err := gormstore.NewGormStore(filepath.Join(dir, "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	cfg := config.Default()
	srv, err := NewServer(Config{
		Service:  backtest.NewService(candles),
		Candles:  candles,
		Runs:     runs,
		Settings: func() *config.Config { return cfg },
	})
	require.NoError(t, err)
	return fixture{srv: srv, candles: candles, runs: runs}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// zigzag 生成先涨后跌的序列，保证突破策略至少成交一次。
func zigzag(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i%25)*2
		out[i] = market.Candle{
			OpenTime:  int64(i) * hourMs,
			CloseTime: int64(i+1)*hourMs - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
		}
	}
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunWithInlineCandlesIsPersisted(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{
		"strategy":        "breakout",
		"candles":         zigzag(80),
		"initial_capital": 5000,
		"max_trades":      10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Run    gormstore.RunRecord `json:"run"`
		Result backtest.Result     `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5000.0, resp.Result.InitialCapital)
	assert.Equal(t, "Breakout", resp.Run.Strategy)
	assert.Equal(t, "inline:80", resp.Run.DataSource)
	assert.LessOrEqual(t, len(resp.Result.Trades), 11)

	detail := f.do(t, http.MethodGet, "/api/backtest/runs/"+resp.Run.ID, nil)
	assert.Equal(t, http.StatusOK, detail.Code)

	trades := f.do(t, http.MethodGet, "/api/backtest/runs/"+resp.Run.ID+"/trades", nil)
	require.Equal(t, http.StatusOK, trades.Code)
	var tr struct {
		Trades []backtest.Trade `json:"trades"`
	}
	require.NoError(t, json.Unmarshal(trades.Body.Bytes(), &tr))
	assert.Len(t, tr.Trades, len(resp.Result.Trades))

	chart := f.do(t, http.MethodGet, "/api/backtest/runs/"+resp.Run.ID+"/chart", nil)
	assert.Equal(t, http.StatusOK, chart.Code)
	assert.Contains(t, chart.Header().Get("Content-Type"), "text/html")

	list := f.do(t, http.MethodGet, "/api/backtest/runs", nil)
	assert.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), resp.Run.ID)

	del := f.do(t, http.MethodDelete, "/api/backtest/runs/"+resp.Run.ID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)
	missing := f.do(t, http.MethodGet, "/api/backtest/runs/"+resp.Run.ID, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestRunFromCache(t *testing.T) {
	f := newFixture(t)
	_, err := f.candles.InsertCandles(context.Background(), "ETHUSDT", "1h", zigzag(60))
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{
		"strategy":  "1",
		"symbol":    "ethusdt",
		"timeframe": "1h",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "cache:ETHUSDT@1h")

	candles := f.do(t, http.MethodGet, "/api/backtest/candles?symbol=ETHUSDT&timeframe=1h&limit=5", nil)
	require.Equal(t, http.StatusOK, candles.Code)
	var body struct {
		Candles []market.Candle `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(candles.Body.Bytes(), &body))
	require.Len(t, body.Candles, 5)
	assert.Equal(t, 59*hourMs, body.Candles[4].OpenTime)

	manifest := f.do(t, http.MethodGet, "/api/backtest/data", nil)
	assert.Equal(t, http.StatusOK, manifest.Code)
	assert.Contains(t, manifest.Body.String(), "ETHUSDT")

	integrity := f.do(t, http.MethodGet, fmt.Sprintf("/api/backtest/integrity?symbol=ETHUSDT&timeframe=1h&start_ts=0&end_ts=%d", 60*hourMs), nil)
	assert.Equal(t, http.StatusOK, integrity.Code)
}

func TestRunMissingDataRecordsFailure(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/backtest/runs", map[string]any{
		"strategy":  "crossover",
		"symbol":    "SOLUSDT",
		"timeframe": "4h",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runs, err := f.runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", string(runs[0].Status))
}

func TestRunRequestSchemaRejectsBadBodies(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"empty":           ``,
		"not json":        `{`,
		"no strategy":     `{"symbol":"BTCUSDT","timeframe":"1h"}`,
		"bad strategy":    `{"strategy":"3","symbol":"BTCUSDT","timeframe":"1h"}`,
		"no data":         `{"strategy":"1"}`,
		"unknown field":   `{"strategy":"1","symbol":"BTCUSDT","timeframe":"1h","leverage":5}`,
		"risk above one":  `{"strategy":"1","symbol":"BTCUSDT","timeframe":"1h","risk_percent":2}`,
		"negative trades": `{"strategy":"1","symbol":"BTCUSDT","timeframe":"1h","max_trades":-1}`,
		"zero close":      `{"strategy":"1","candles":[{"open_time":0,"open":1,"high":1,"low":1,"close":0}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/backtest/runs", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestFetchRoutesWithoutFetcher(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/backtest/fetch", `{"symbol":"BTCUSDT","timeframe":"1h","start_ts":0,"end_ts":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	jobs := f.do(t, http.MethodGet, "/api/backtest/jobs", nil)
	assert.Equal(t, http.StatusOK, jobs.Code)
}

type fixedSource struct{ candles []market.Candle }

func (s fixedSource) Name() string { return "fixed" }

func (s fixedSource) Fetch(_ context.Context, req market.FetchRequest) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range s.candles {
		if c.OpenTime >= req.Start && c.OpenTime <= req.End {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestFetchJobLifecycle(t *testing.T) {
	f := newFixture(t)
	fetcher, err := market.NewFetcher(market.FetcherConfig{Store: f.candles, Source: fixedSource{candles: zigzag(10)}})
	require.NoError(t, err)
	f.srv.fetcher = fetcher

	bad := f.do(t, http.MethodPost, "/api/backtest/fetch", `{"symbol":"BTCUSDT"}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec := f.do(t, http.MethodPost, "/api/backtest/fetch", fmt.Sprintf(`{"symbol":"BTCUSDT","timeframe":"1h","start_ts":0,"end_ts":%d}`, 9*hourMs))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp struct {
		Job market.FetchJob `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Job.ID)

	require.Eventually(t, func() bool {
		job, ok := fetcher.Job(resp.Job.ID)
		return ok && (job.Status == market.JobStatusDone || job.Status == market.JobStatusPartial || job.Status == market.JobStatusFailed)
	}, 5*time.Second, 10*time.Millisecond)

	status := f.do(t, http.MethodGet, "/api/backtest/fetch/"+resp.Job.ID, nil)
	assert.Equal(t, http.StatusOK, status.Code)
	assert.Contains(t, status.Body.String(), market.JobStatusDone)
	missing := f.do(t, http.MethodGet, "/api/backtest/fetch/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.True(t, strings.Contains(f.do(t, http.MethodGet, "/api/backtest/jobs", nil).Body.String(), resp.Job.ID))
}
