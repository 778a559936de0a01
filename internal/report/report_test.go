package report

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"backlab/internal/backtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleResult() backtest.Result {
	return backtest.Result{
		Strategy:       "Breakout",
		InitialCapital: 10000,
		FinalValue:     10050,
		ReturnPct:      0.5,
		TradesExecuted: 2,
		Trades: []backtest.Trade{
			{Seq: 1, Time: 1000, Action: backtest.ActionBuy, Side: backtest.SideLong, Price: 100, Size: 10, Balance: 10000, StopLoss: 90, TakeProfit: 120, Reason: backtest.ReasonEntry},
			{Seq: 2, Time: 2000, Action: backtest.ActionSell, Side: backtest.SideLong, Price: 105, Balance: 10050, StopLoss: 90, TakeProfit: 120, PnL: 50, Reason: backtest.ReasonSignal},
		},
		Equity: []backtest.EquityPoint{
			{Time: 1000, Price: 100, Balance: 10000, Equity: 10000},
			{Time: 2000, Price: 105, Balance: 10050, Equity: 10050},
		},
		Stats: backtest.Stats{Profit: 50, Wins: 1, WinRate: 100, EquityPeak: 10050, EquityValley: 10000, Bars: 2},
	}
}

func TestFormatRow(t *testing.T) {
	res := sampleResult()
	assert.Equal(t,
		"      1 |   BUY    |    100.00 |  10.000000 |      10000.00 |         90.00 |          120.00 |      0.00",
		FormatRow(res.Trades[0]))
	assert.Equal(t,
		"      2 |   SELL   |    105.00 |   0.000000 |      10050.00 |         90.00 |          120.00 |     50.00",
		FormatRow(res.Trades[1]))
	closeRow := FormatRow(backtest.Trade{Seq: 3, Action: backtest.ActionClose, PnL: -1.5})
	assert.Contains(t, closeRow, "|   CLOSE  |")
	assert.True(t, strings.HasSuffix(closeRow, "|     -1.50"))
}

func TestTradeLogPrintsHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	log := NewTradeLog(&buf, false)
	res := sampleResult()
	for _, tr := range res.Trades {
		require.NoError(t, log.RecordTrade(context.Background(), tr))
	}
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Trade Log:"))
	assert.Equal(t, 1, strings.Count(out, tableHeader))
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, strings.Repeat("-", tableWidth), lines[1])
	assert.Equal(t, FormatRow(res.Trades[1]), lines[5])
}

func TestTradeLogRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTradeLog(&buf, false).Render(nil))
	assert.Contains(t, buf.String(), tableHeader)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleResult()))
	out := buf.String()
	assert.Contains(t, out, "Backtest Summary:\nTotal Trades: 2\n")
	assert.Contains(t, out, "Strategy: Breakout\n")
	assert.Contains(t, out, "Initial Investment: $10000.00\n")
	assert.Contains(t, out, "Final Value: $10050.00\n")
	assert.Contains(t, out, "Return: +0.50%\n")
	assert.NotContains(t, out, "Open Position")
}

func TestFormatReturn(t *testing.T) {
	cases := map[float64]string{
		0:      "+0.00%",
		12.345: "+12.35%",
		-3.2:   "-3.20%",
		-0.001: "+0.00%",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatReturn(in), "pct=%v", in)
	}
	assert.Equal(t, "$1234.50", Money(1234.5))
}

func TestExportJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	res := sampleResult()

	jsonPath := filepath.Join(dir, "out.json")
	require.NoError(t, ExportFile(jsonPath, res))
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded backtest.Result
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, res.FinalValue, decoded.FinalValue)
	assert.Len(t, decoded.Trades, 2)

	yamlPath := filepath.Join(dir, "out.yml")
	require.NoError(t, ExportFile(yamlPath, res))
	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, "Breakout", doc["strategy"])
	assert.Contains(t, string(raw), "return_pct: 0.5")

	require.Error(t, ExportFile(filepath.Join(dir, "out.csv"), res))
}

func TestEquityChartHTML(t *testing.T) {
	html, err := EquityChartHTML(sampleResult(), "")
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "echarts")
	assert.Contains(t, out, "Breakout")
	assert.Contains(t, out, "Equity")
	assert.Contains(t, out, "Sell")

	_, err = EquityChartHTML(backtest.Result{}, "x")
	assert.ErrorIs(t, err, ErrNoEquity)
}

func TestTradeMarkersAlignToBars(t *testing.T) {
	buys, sells := tradeMarkers(sampleResult())
	require.Len(t, buys, 2)
	require.Len(t, sells, 2)
	assert.Equal(t, 100.0, buys[0].Value)
	assert.Nil(t, buys[1].Value)
	assert.Equal(t, 105.0, sells[1].Value)
}
