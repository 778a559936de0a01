package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"backlab/internal/backtest"
	storemodel "backlab/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	st, err := NewGormStore(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleResult() backtest.Result {
	return backtest.Result{
		Strategy:       "Breakout",
		InitialCapital: 10000,
		FinalValue:     10050,
		ReturnPct:      0.5,
		TradesExecuted: 2,
		Trades: []backtest.Trade{
			{Seq: 1, Time: 1000, Action: backtest.ActionBuy, Side: backtest.SideLong, Price: 100, Size: 10, Balance: 10000, StopLoss: 90, TakeProfit: 120, Reason: backtest.ReasonEntry},
			{Seq: 2, Time: 2000, Action: backtest.ActionSell, Side: backtest.SideLong, Price: 105, Size: 0, Balance: 10050, StopLoss: 90, TakeProfit: 120, PnL: 50.000000000001, Reason: backtest.ReasonSignal},
		},
		Equity: []backtest.EquityPoint{
			{Time: 1000, Price: 100, Balance: 10000, Equity: 10000},
			{Time: 2000, Price: 105, Balance: 10050, Equity: 10050},
		},
		Stats: backtest.Stats{Profit: 50, Wins: 1, WinRate: 100, EquityPeak: 10050, EquityValley: 10000, Bars: 2},
	}
}

func TestNewGormStoreRequiresPath(t *testing.T) {
	_, err := NewGormStore("  ")
	require.Error(t, err)
}

func TestSaveAndGetRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	meta := RunMeta{Symbol: "BTCUSDT", Timeframe: "1h", DataSource: "csv:btc.csv", Config: map[string]any{"strategy": "breakout"}}
	rec, err := st.SaveRun(ctx, meta, sampleResult())
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.Equal(t, storemodel.RunStatusDone, rec.Status)

	got, err := st.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Breakout", got.Strategy)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, 10050.0, got.FinalValue)
	assert.Equal(t, 2, got.TradesExecuted)
	assert.Equal(t, 2, got.Bars)
	assert.Equal(t, 1, got.Stats.Wins)
	assert.Len(t, got.Equity, 2)
	assert.Nil(t, got.OpenPosition)
	assert.JSONEq(t, `{"strategy":"breakout"}`, string(got.Config))
	require.NotNil(t, got.FinishedAt)

	trades, err := st.ListTrades(ctx, rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 1, trades[0].Seq)
	assert.Equal(t, backtest.ActionSell, trades[1].Action)
	assert.Equal(t, backtest.ReasonSignal, trades[1].Reason)
	assert.Equal(t, 50.0, trades[1].PnL)

	limited, err := st.ListTrades(ctx, rec.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveRunKeepsOpenPosition(t *testing.T) {
	st := newTestStore(t)
	res := sampleResult()
	res.OpenPosition = &backtest.Position{Side: backtest.SideLong, Size: 3, Entry: 101, StopLoss: 95, TakeProfit: 113}

	rec, err := st.SaveRun(context.Background(), RunMeta{ID: "fixed-id"}, res)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", rec.ID)
	require.NotNil(t, rec.OpenPosition)
	assert.Equal(t, 101.0, rec.OpenPosition.Entry)

	_, err = st.SaveRun(context.Background(), RunMeta{ID: "fixed-id"}, res)
	require.Error(t, err)
}

func TestSaveFailedRun(t *testing.T) {
	st := newTestStore(t)
	rec, err := st.SaveFailedRun(context.Background(), RunMeta{Symbol: "ETHUSDT"}, "Breakout", errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, storemodel.RunStatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Message)

	trades, err := st.ListTrades(context.Background(), rec.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestListAndDeleteRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := st.SaveRun(ctx, RunMeta{}, sampleResult())
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	for _, r := range runs {
		assert.Empty(t, r.Equity)
	}
	runs, err = st.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, st.DeleteRun(ctx, ids[0]))
	_, err = st.GetRun(ctx, ids[0])
	assert.ErrorIs(t, err, ErrRunNotFound)
	trades, err := st.ListTrades(ctx, ids[0], 0)
	require.NoError(t, err)
	assert.Empty(t, trades)

	assert.ErrorIs(t, st.DeleteRun(ctx, ids[0]), ErrRunNotFound)
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, 50.0, roundMoney(50.000000000001))
	assert.Equal(t, 0.12345679, roundMoney(0.123456789))
}
