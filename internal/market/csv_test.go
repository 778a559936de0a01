package market

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSVSortsAndSkipsPreamble(t *testing.T) {
	body := "https://www.cryptodatadownload.com\n" +
		"Unix Timestamp,Date,Symbol,Open,High,Low,Close,Volume BTC,Volume USDT,tradecount\n" +
		"1609462800000,2021-01-01 01:00:00,BTCUSDT,29000,29100,28900,29050,10,290000,120\n" +
		"1609459200000,2021-01-01 00:00:00,BTCUSDT,28900,29050,28800,29000,12,348000,150\n" +
		"1609466400000,2021-01-01 02:00:00,BTCUSDT,29050,n/a,29000,29080,8,232000,90\n"

	candles, err := ParseCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, candles, 2, "row with unparsable high is skipped")

	first := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, first, candles[0].OpenTime)
	assert.Equal(t, first+time.Hour.Milliseconds(), candles[1].OpenTime)
	assert.Equal(t, 28900.0, candles[0].Open)
	assert.Equal(t, 29000.0, candles[0].Close)
	assert.Equal(t, 12.0, candles[0].Volume)
	assert.Equal(t, int64(150), candles[0].Trades)
}

func TestParseCSVUnixSecondsAndBOM(t *testing.T) {
	body := "\ufefftimestamp,open,high,low,close\n" +
		"1700000000,1,2,0.5,1.5\n" +
		"1700003600,1.5,2.5,1,2\n"
	candles, err := ParseCSV(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime)
	assert.Equal(t, 0.0, candles[0].Volume)
}

func TestParseCSVErrors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.ErrorIs(t, err, ErrNoHeader)

	dup := "Date,Open,High,Low,Close\n2021-01-01,1,2,0.5,1\n2021-01-01,1,2,0.5,1\n"
	_, err = ParseCSV(strings.NewReader(dup))
	assert.ErrorIs(t, err, ErrDuplicateTime)
}

func TestLoadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Open,High,Low,Close,Volume\n2021-01-02,2,3,1,2.5,4\n2021-01-01,1,2,0.5,1.5,3\n"), 0o644))
	candles, err := LoadCSV(path)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Less(t, candles[0].OpenTime, candles[1].OpenTime)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, tf.Duration)

	start, end := tf.AlignRange(3_700_000, 1_000)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(3_600_000), end)
	assert.Equal(t, int64(2), tf.ExpectedCandles(start, end))

	week, err := ParseTimeframe("7d")
	require.NoError(t, err)
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	s, _ := week.AlignRange(monday+3*24*3600*1000, monday+3*24*3600*1000)
	assert.Equal(t, monday, s)

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
	assert.Equal(t, "1m", SupportedTimeframes()[0])
}
