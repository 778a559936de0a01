package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"backlab/internal/market"
	"backlab/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs = int64(3_600_000)

type env struct {
	dir        string
	configPath string
	csvPath    string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`data:
  dir: %s
backtest:
  results_db: %s
  delay_seconds: 0
`, filepath.Join(dir, "candles"), filepath.Join(dir, "results.db"))
	cfgPath := filepath.Join(dir, "backlab.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	var b strings.Builder
	b.WriteString("https://www.CryptoDataDownload.com\n")
	b.WriteString("Date,Symbol,Open,High,Low,Close,Volume BTC\n")
	for i := 59; i >= 0; i-- {
		price := 100 + float64(i%25)*2
		fmt.Fprintf(&b, "%d,BTCUSDT,%.2f,%.2f,%.2f,%.2f,1\n",
			int64(i)*hourMs+1_600_000_000_000, price, price+1, price-1, price+0.5)
	}
	csvPath := filepath.Join(dir, "btc.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(b.String()), 0o644))
	return env{dir: dir, configPath: cfgPath, csvPath: csvPath}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func stubPrompt(t *testing.T, answer string) {
	t.Helper()
	prev := strategyPrompt
	strategyPrompt = func(io.Writer) (string, error) { return answer, nil }
	t.Cleanup(func() { strategyPrompt = prev })
}

func TestRunWithFlagPrintsLogAndSaves(t *testing.T) {
	e := newEnv(t)
	exportPath := filepath.Join(e.dir, "out", "result.json")
	chartPath := filepath.Join(e.dir, "out", "equity.html")

	out, err := execute(t, "run", "--config", e.configPath, "--strategy", "1", "--csv", e.csvPath,
		"--no-delay", "--plain", "--export", exportPath, "--chart", chartPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Trade # |  Action  |")
	assert.Contains(t, out, "Backtest Summary:")
	assert.Contains(t, out, "Strategy: Breakout")
	assert.Contains(t, out, "Initial Investment: $10000.00")
	assert.Contains(t, out, "run saved")
	assert.FileExists(t, exportPath)
	assert.FileExists(t, chartPath)

	runs, err := gormstore.NewGormStore(filepath.Join(e.dir, "results.db"))
	require.NoError(t, err)
	defer runs.Close()
	list, err := runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "csv:"+e.csvPath, list[0].DataSource)
}

func TestRunPromptsWhenStrategyMissing(t *testing.T) {
	e := newEnv(t)
	stubPrompt(t, "2")
	out, err := execute(t, "run", "--config", e.configPath, "--csv", e.csvPath, "--no-delay", "--no-save")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Strategy: Moving Average Crossover")
	assert.NoFileExists(t, filepath.Join(e.dir, "results.db"))
}

func TestRunInvalidChoiceExitsCleanly(t *testing.T) {
	e := newEnv(t)
	for _, answer := range []string{"3", "", "breakout"} {
		t.Run("prompt "+answer, func(t *testing.T) {
			stubPrompt(t, answer)
			out, err := execute(t, "run", "--config", e.configPath, "--csv", e.csvPath, "--no-delay")
			require.NoError(t, err)
			assert.Contains(t, out, "Invalid choice. Exiting.")
			assert.NotContains(t, out, "Backtest Summary:")
		})
	}

	out, err := execute(t, "run", "--config", e.configPath, "--strategy", "x", "--csv", e.csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Invalid choice. Exiting.")
	assert.NoFileExists(t, filepath.Join(e.dir, "results.db"))
}

func TestRunMissingCacheFails(t *testing.T) {
	e := newEnv(t)
	_, err := execute(t, "run", "--config", e.configPath, "--strategy", "1", "--symbol", "BTCUSDT", "--timeframe", "1h", "--no-delay", "--no-save")
	assert.Error(t, err)
}

func TestRunBadConfigFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backtest:\n  risk_percent: 3\n"), 0o644))
	_, err := execute(t, "run", "--config", path, "--strategy", "1")
	assert.Error(t, err)
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

func TestFetchFillsCacheThenRunReadsIt(t *testing.T) {
	e := newEnv(t)
	candles := make([]market.Candle, 10)
	for i := range candles {
		price := 100 + float64(i)
		candles[i] = market.Candle{
			OpenTime:  int64(i) * hourMs,
			CloseTime: int64(i+1)*hourMs - 1,
			Open:      price, High: price + 1, Low: price - 1, Close: price + 0.5,
		}
	}
	prev := newSource
	newSource = func(string, string) (market.CandleSource, error) { return fixedSource{candles: candles}, nil }
	t.Cleanup(func() { newSource = prev })

	out, err := execute(t, "fetch", "--config", e.configPath, "--symbol", "btcusdt", "--timeframe", "1h",
		"--start", "0", "--end", fmt.Sprint(9*hourMs))
	require.NoError(t, err, out)
	assert.Contains(t, out, "done BTCUSDT@1h")

	out, err = execute(t, "run", "--config", e.configPath, "--strategy", "breakout", "--symbol", "BTCUSDT",
		"--timeframe", "1h", "--no-delay", "--no-save")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Backtest Summary:")
}

func TestFetchRejectsBadRange(t *testing.T) {
	e := newEnv(t)
	_, err := execute(t, "fetch", "--config", e.configPath, "--symbol", "BTCUSDT", "--timeframe", "1h",
		"--start", "2024-02-01", "--end", "2024-01-01")
	assert.Error(t, err)
	_, err = execute(t, "fetch", "--config", e.configPath, "--symbol", "BTCUSDT", "--timeframe", "1h")
	assert.Error(t, err)
}

func TestParseTimeArg(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1704067200000", 1704067200000, true},
		{"2024-01-01", 1704067200000, true},
		{"2024-01-01T01:00:00Z", 1704067200000 + hourMs, true},
		{"yesterday", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := parseTimeArg(tc.in)
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
