package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"backlab/internal/backtest"

	"github.com/shopspring/decimal"
)

// WriteSummary 输出回测摘要与收益行。
func WriteSummary(w io.Writer, res backtest.Result) error {
	var b strings.Builder
	b.WriteString("\nBacktest Summary:\n")
	fmt.Fprintf(&b, "Total Trades: %d\n", res.TradesExecuted)
	if res.Stats.Rejected > 0 {
		fmt.Fprintf(&b, "Rejected Entries: %d\n", res.Stats.Rejected)
	}
	fmt.Fprintf(&b, "Win Rate: %s%%\n", fixed(res.Stats.WinRate))
	fmt.Fprintf(&b, "Max Drawdown: %s%%\n", fixed(res.Stats.MaxDrawdownPct))
	if res.OpenPosition != nil {
		p := res.OpenPosition
		fmt.Fprintf(&b, "Open Position: %s %s @ %s\n", p.Side, decimal.NewFromFloat(math.Abs(p.Size)).StringFixed(6), fixed(p.Entry))
	}
	fmt.Fprintf(&b, "\nStrategy: %s\n", res.Strategy)
	fmt.Fprintf(&b, "Initial Investment: %s\n", Money(res.InitialCapital))
	fmt.Fprintf(&b, "Final Value: %s\n", Money(res.FinalValue))
	fmt.Fprintf(&b, "Return: %s\n", FormatReturn(res.ReturnPct))
	_, err := io.WriteString(w, b.String())
	return err
}

// Money 格式化为 $x.xx。
func Money(v float64) string {
	return "$" + fixed(v)
}

// FormatReturn 带显式正负号，零记为 +。
func FormatReturn(pct float64) string {
	sign := "+"
	if pct < 0 {
		sign = "-"
	}
	s := fixed(math.Abs(pct))
	if s == "0.00" {
		sign = "+"
	}
	return sign + s + "%"
}

func fixed(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}
