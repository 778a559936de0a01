package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// SpotSource 基于 Binance 现货 REST /api/v3/klines。
type SpotSource struct {
	baseURL string
	client  *http.Client
}

func NewSpotSource(base string) *SpotSource {
	if base == "" {
		base = "https://api.binance.com"
	}
	return &SpotSource{
		baseURL: base,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SpotSource) Name() string { return "spot" }

func (s *SpotSource) Fetch(ctx context.Context, req FetchRequest) ([]Candle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("spot base url: %w", err)
	}
	u.Path = "/api/v3/klines"
	q := u.Query()
	q.Set("symbol", req.Symbol)
	q.Set("interval", req.Interval)
	q.Set("limit", strconv.Itoa(req.limit()))
	if req.Start > 0 {
		q.Set("startTime", strconv.FormatInt(req.Start, 10))
	}
	if req.End > 0 {
		q.Set("endTime", strconv.FormatInt(req.End, 10))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("binance spot status %d: %s", resp.StatusCode, gjson.GetBytes(body, "msg").String())
	}
	return parseKlinesJSON(body)
}

// parseKlinesJSON 解析 Binance 的二维数组 K 线响应，字段以字符串或数字给出均可。
func parseKlinesJSON(body []byte) ([]Candle, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid klines payload")
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("klines payload is not an array")
	}
	rows := root.Array()
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		cols := row.Array()
		if len(cols) < 7 {
			continue
		}
		c := Candle{
			OpenTime:  cols[0].Int(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[5].Float(),
			CloseTime: cols[6].Int(),
		}
		if len(cols) > 8 {
			c.Trades = cols[8].Int()
		}
		out = append(out, c)
	}
	return out, nil
}
