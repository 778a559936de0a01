package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"backlab/internal/logger"
)

var (
	// ErrNoHeader 表示文件中找不到包含 open/high/low/close 的表头。
	ErrNoHeader = errors.New("csv header with open/high/low/close not found")
	// ErrDuplicateTime 表示存在重复的时间戳。
	ErrDuplicateTime = errors.New("duplicate candle timestamp")
)

var timeColumns = []string{"date", "datetime", "open_time", "timestamp", "time", "unix timestamp", "unix"}

var extraLayouts = []string{
	"2006-01-02 03-PM",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
}

type csvColumns struct {
	time, open, high, low, close, volume, trades int
}

// LoadCSV 读取本地历史行情 CSV 并返回按时间升序排列的 K 线。
func LoadCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load csv %s: %w", path, err)
	}
	defer f.Close()
	candles, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load csv %s: %w", path, err)
	}
	return candles, nil
}

// ParseCSV 解析 CSV 内容：跳过表头前的说明行，列名大小写不敏感，
// 无法解析的数据行记录告警后跳过，结果按时间升序且不允许重复。
func ParseCSV(r io.Reader) ([]Candle, error) {
	// BOMOverride 同时处理 UTF-8 与 UTF-16 BOM
	tr := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(tr)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		cols    *csvColumns
		out     []Candle
		skipped int
		line    int
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if cols == nil {
			cols = detectColumns(rec)
			continue
		}
		c, err := parseRow(rec, *cols)
		if err != nil {
			skipped++
			logger.Warnf("[market] skip csv line %d: %v", line, err)
			continue
		}
		out = append(out, c)
	}
	if cols == nil {
		return nil, ErrNoHeader
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	for i := 1; i < len(out); i++ {
		if out[i].OpenTime == out[i-1].OpenTime {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTime, out[i].Time().Format(time.RFC3339))
		}
	}
	if skipped > 0 {
		logger.Warnf("[market] csv parsed %d rows, skipped %d", len(out), skipped)
	}
	return out, nil
}

// detectColumns 返回表头对应的列下标；不是表头时返回 nil。
func detectColumns(rec []string) *csvColumns {
	index := make(map[string]int, len(rec))
	cols := csvColumns{time: -1, open: -1, high: -1, low: -1, close: -1, volume: -1, trades: -1}
	for i, name := range rec {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, ok := index[key]; !ok {
			index[key] = i
		}
		if cols.volume < 0 && strings.HasPrefix(key, "volume") {
			cols.volume = i
		}
	}
	pick := func(names ...string) int {
		for _, n := range names {
			if i, ok := index[n]; ok {
				return i
			}
		}
		return -1
	}
	cols.open, cols.high, cols.low, cols.close = pick("open"), pick("high"), pick("low"), pick("close")
	if cols.open < 0 || cols.high < 0 || cols.low < 0 || cols.close < 0 {
		return nil
	}
	cols.time = pick(timeColumns...)
	if cols.time < 0 {
		return nil
	}
	if v := pick("volume"); v >= 0 {
		cols.volume = v
	}
	cols.trades = pick("trades", "tradecount", "trade_count", "number_of_trades")
	return &cols
}

func parseRow(rec []string, cols csvColumns) (Candle, error) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	ts, err := parseTimestamp(field(cols.time))
	if err != nil {
		return Candle{}, err
	}
	var c Candle
	c.OpenTime = ts
	for _, p := range []struct {
		name string
		idx  int
		dst  *float64
	}{
		{"open", cols.open, &c.Open},
		{"high", cols.high, &c.High},
		{"low", cols.low, &c.Low},
		{"close", cols.close, &c.Close},
	} {
		v, err := cast.ToFloat64E(field(p.idx))
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Candle{}, fmt.Errorf("invalid %s %q", p.name, field(p.idx))
		}
		*p.dst = v
	}
	if raw := field(cols.volume); raw != "" {
		c.Volume = cast.ToFloat64(raw)
	}
	if raw := field(cols.trades); raw != "" {
		c.Trades = cast.ToInt64(raw)
	}
	return c, nil
}

// parseTimestamp 支持日期字符串与 Unix 秒/毫秒，返回毫秒时间戳。
func parseTimestamp(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if n, err := cast.ToInt64E(raw); err == nil && isDigits(raw) {
		if n > 1e11 {
			return n, nil
		}
		return n * 1000, nil
	}
	if t, err := cast.ToTimeE(raw); err == nil {
		return t.UTC().UnixMilli(), nil
	}
	for _, layout := range extraLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("invalid timestamp %q", raw)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
