package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"backlab/internal/backtest"

	"github.com/charmbracelet/lipgloss"
)

const (
	tableHeader = "Trade # |  Action  |   Price   |  Position  | Account Value |   Stop Loss   |   Take Profit   |    P/L    "
	tableWidth  = 119
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))
	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
	profitStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981"))
	lossStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444"))
)

// TradeLog 把成交记录按控制台表格输出；实现 backtest.TradeRecorder，可逐笔实时打印。
type TradeLog struct {
	w      io.Writer
	styled bool

	mu      sync.Mutex
	started bool
}

// NewTradeLog 创建表格输出；styled=false 时输出纯文本。
func NewTradeLog(w io.Writer, styled bool) *TradeLog {
	return &TradeLog{w: w, styled: styled}
}

var _ backtest.TradeRecorder = (*TradeLog)(nil)

// RecordTrade 首次调用时先输出表头。
func (t *TradeLog) RecordTrade(_ context.Context, trade backtest.Trade) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		if err := t.header(); err != nil {
			return err
		}
		t.started = true
	}
	_, err := fmt.Fprintln(t.w, t.paint(FormatRow(trade), trade))
	return err
}

// Render 一次性输出完整表格；没有成交时仍输出表头。
func (t *TradeLog) Render(trades []backtest.Trade) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		if err := t.header(); err != nil {
			return err
		}
		t.started = true
	}
	for _, trade := range trades {
		if _, err := fmt.Fprintln(t.w, t.paint(FormatRow(trade), trade)); err != nil {
			return err
		}
	}
	return nil
}

func (t *TradeLog) header() error {
	rule := strings.Repeat("-", tableWidth)
	lines := []string{
		t.style(titleStyle, "Trade Log:"),
		t.style(ruleStyle, rule),
		t.style(titleStyle, tableHeader),
		t.style(ruleStyle, rule),
	}
	_, err := fmt.Fprintln(t.w, strings.Join(lines, "\n"))
	return err
}

func (t *TradeLog) paint(row string, trade backtest.Trade) string {
	if !trade.Closing() {
		return row
	}
	if trade.PnL >= 0 {
		return t.style(profitStyle, row)
	}
	return t.style(lossStyle, row)
}

func (t *TradeLog) style(s lipgloss.Style, text string) string {
	if !t.styled {
		return text
	}
	return s.Render(text)
}

// FormatRow 返回一行定宽文本。
func FormatRow(t backtest.Trade) string {
	return fmt.Sprintf("%7d | %s | %9.2f | %10.6f | %13.2f | %13.2f | %15.2f | %9.2f",
		t.Seq, actionLabel(t.Action), t.Price, t.Size, t.Balance, t.StopLoss, t.TakeProfit, t.PnL)
}

func actionLabel(a backtest.Action) string {
	switch a {
	case backtest.ActionBuy:
		return "  BUY   "
	case backtest.ActionSell:
		return "  SELL  "
	case backtest.ActionClose:
		return "  CLOSE "
	default:
		return fmt.Sprintf("%-8s", strings.ToUpper(string(a)))
	}
}
