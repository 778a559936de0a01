package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"backlab/internal/backtest"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#34d399"
	colorBalance       = "#3b82f6"
	colorPrice         = "#fbbf24"
	colorBuy           = "#22d3ee"
	colorSell          = "#fb7185"

	chartWidthPx  = 1600
	chartHeightPx = 640
)

// ErrNoEquity 表示结果里没有可绘制的资金曲线。
var ErrNoEquity = errors.New("no equity points to chart")

// EquityChartHTML 渲染资金曲线（盯市权益、已实现余额、收盘价副轴）与买卖点。
func EquityChartHTML(res backtest.Result, title string) ([]byte, error) {
	if len(res.Equity) == 0 {
		return nil, ErrNoEquity
	}
	if title == "" {
		title = res.Strategy
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      fmt.Sprintf("%s -> %s (%s)", Money(res.InitialCapital), Money(res.FinalValue), FormatReturn(res.ReturnPct)),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "Equity",
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.ExtendYAxis(opts.YAxis{
		Name:      "Price",
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
	})

	line.SetXAxis(buildXAxis(res.Equity))
	equity, balance, price := equitySeries(res.Equity)
	noSymbol := opts.LineChart{ShowSymbol: opts.Bool(false)}
	onPriceAxis := opts.LineChart{ShowSymbol: opts.Bool(false), YAxisIndex: 1}
	line.AddSeries("Equity", equity,
		charts.WithLineChartOpts(noSymbol),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	line.AddSeries("Balance", balance,
		charts.WithLineChartOpts(noSymbol),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorBalance, Width: 1}),
	)
	line.AddSeries("Close", price,
		charts.WithLineChartOpts(onPriceAxis),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 1, Opacity: opts.Float(0.6)}),
	)

	buys, sells := tradeMarkers(res)
	if buys != nil || sells != nil {
		scatter := charts.NewScatter()
		scatter.SetXAxis(buildXAxis(res.Equity))
		marker := opts.ScatterChart{YAxisIndex: 1}
		if buys != nil {
			scatter.AddSeries("Buy", buys,
				charts.WithScatterChartOpts(marker),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBuy}),
			)
		}
		if sells != nil {
			scatter.AddSeries("Sell/Close", sells,
				charts.WithScatterChartOpts(marker),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSell}),
			)
		}
		line.Overlap(scatter)
	}

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteChartHTML 把资金曲线写到 path。
func WriteChartHTML(path string, res backtest.Result, title string) error {
	html, err := EquityChartHTML(res, title)
	if err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, html, 0o644)
}

// WriteChartPNG 用无头浏览器截图资金曲线。
func WriteChartPNG(ctx context.Context, path string, res backtest.Result, title string) error {
	html, err := EquityChartHTML(res, title)
	if err != nil {
		return err
	}
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return fmt.Errorf("headless chrome unavailable: %w", err)
	}
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, chartHeightPx+40)
	if err != nil {
		return err
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}

func buildXAxis(points []backtest.EquityPoint) []string {
	x := make([]string, len(points))
	for i, p := range points {
		x[i] = time.UnixMilli(p.Time).UTC().Format("2006-01-02 15:04")
	}
	return x
}

func equitySeries(points []backtest.EquityPoint) (equity, balance, price []opts.LineData) {
	equity = make([]opts.LineData, len(points))
	balance = make([]opts.LineData, len(points))
	price = make([]opts.LineData, len(points))
	for i, p := range points {
		equity[i] = opts.LineData{Value: round(p.Equity, 2)}
		balance[i] = opts.LineData{Value: round(p.Balance, 2)}
		price[i] = opts.LineData{Value: round(p.Price, 4)}
	}
	return equity, balance, price
}

// tradeMarkers 按 K 线对齐买入与卖出/平仓散点；没有对应成交的一侧返回 nil。
func tradeMarkers(res backtest.Result) (buys, sells []opts.ScatterData) {
	if len(res.Trades) == 0 {
		return nil, nil
	}
	index := make(map[int64]int, len(res.Equity))
	for i, p := range res.Equity {
		index[p.Time] = i
	}
	empty := func() []opts.ScatterData {
		out := make([]opts.ScatterData, len(res.Equity))
		for i := range out {
			out[i] = opts.ScatterData{Value: nil}
		}
		return out
	}
	for _, t := range res.Trades {
		i, ok := index[t.Time]
		if !ok {
			continue
		}
		point := opts.ScatterData{Value: round(t.Price, 4), Symbol: "triangle", SymbolSize: 10}
		if t.Action == backtest.ActionBuy {
			if buys == nil {
				buys = empty()
			}
			buys[i] = point
			continue
		}
		if sells == nil {
			sells = empty()
		}
		sells[i] = point
	}
	return buys, sells
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

func round(val float64, decimals int) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
