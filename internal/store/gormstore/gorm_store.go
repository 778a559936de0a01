package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backlab/internal/backtest"
	storemodel "backlab/internal/store/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type runModel = storemodel.BacktestRunModel
type tradeModel = storemodel.BacktestTradeModel

// ErrRunNotFound 表示 run id 不存在。
var ErrRunNotFound = errors.New("backtest run not found")

const tradeBatchSize = 200

// GormStore 使用 Gorm + SQLite 持久化回测结果。
type GormStore struct {
	db *gorm.DB
}

// RunMeta 描述一次回测的上下文（数据来源与参数快照）。
type RunMeta struct {
	ID         string
	Symbol     string
	Timeframe  string
	DataSource string
	Config     any
}

// RunRecord 是读出的回测摘要。
type RunRecord struct {
	ID             string                 `json:"id"`
	Strategy       string                 `json:"strategy"`
	Symbol         string                 `json:"symbol,omitempty"`
	Timeframe      string                 `json:"timeframe,omitempty"`
	DataSource     string                 `json:"data_source,omitempty"`
	Status         storemodel.RunStatus   `json:"status"`
	Message        string                 `json:"message,omitempty"`
	InitialCapital float64                `json:"initial_capital"`
	FinalValue     float64                `json:"final_value"`
	ReturnPct      float64                `json:"return_pct"`
	TradesExecuted int                    `json:"trades_executed"`
	Bars           int                    `json:"bars"`
	Config         json.RawMessage        `json:"config,omitempty"`
	Stats          backtest.Stats         `json:"stats"`
	Equity         []backtest.EquityPoint `json:"equity,omitempty"`
	OpenPosition   *backtest.Position     `json:"open_position,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
}

// NewGormStore 打开（必要时创建）结果库并迁移表结构。
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 结果库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 在一个事务里写入摘要与完整成交日志，返回写入后的摘要。
func (s *GormStore) SaveRun(ctx context.Context, meta RunMeta, res backtest.Result) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	id := strings.TrimSpace(meta.ID)
	if id == "" {
		id = uuid.NewString()
	}
	run, err := newRunModel(id, meta, res)
	if err != nil {
		return RunRecord{}, err
	}
	trades := make([]tradeModel, 0, len(res.Trades))
	for _, t := range res.Trades {
		trades = append(trades, newTradeModel(id, t))
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil
		}
		return tx.CreateInBatches(&trades, tradeBatchSize).Error
	})
	if err != nil {
		return RunRecord{}, fmt.Errorf("save run %s: %w", id, err)
	}
	return runModelToRecord(run)
}

// SaveFailedRun 记录一次未能完成的回测。
func (s *GormStore) SaveFailedRun(ctx context.Context, meta RunMeta, strategyName string, cause error) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	id := strings.TrimSpace(meta.ID)
	if id == "" {
		id = uuid.NewString()
	}
	cfg, err := marshalJSON(meta.Config)
	if err != nil {
		return RunRecord{}, err
	}
	now := time.Now().Unix()
	run := runModel{
		ID:             id,
		Strategy:       strategyName,
		Symbol:         meta.Symbol,
		Timeframe:      meta.Timeframe,
		DataSource:     meta.DataSource,
		Status:         storemodel.RunStatusFailed,
		ConfigJSON:     cfg,
		CreatedAtUnix:  now,
		FinishedAtUnix: &now,
	}
	if cause != nil {
		run.Message = cause.Error()
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return RunRecord{}, fmt.Errorf("save failed run %s: %w", id, err)
	}
	return runModelToRecord(run)
}

// GetRun 读取单个回测摘要。
func (s *GormStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, fmt.Errorf("gorm store 未初始化")
	}
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}
	return runModelToRecord(m)
}

// ListRuns 按创建时间倒序返回最近的回测；列表不带资金曲线。
func (s *GormStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	err := s.db.WithContext(ctx).
		Omit("equity_json").
		Order("created_at DESC").Order("id").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		rec, err := runModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListTrades 按序号返回一次回测的成交日志；limit<=0 表示全部。
func (s *GormStore) ListTrades(ctx context.Context, runID string, limit int) ([]backtest.Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	q := s.db.WithContext(ctx).Where("run_id = ?", strings.TrimSpace(runID)).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []tradeModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, tradeModelToTrade(m))
	}
	return out, nil
}

// DeleteRun 删除回测及其成交日志。
func (s *GormStore) DeleteRun(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	id = strings.TrimSpace(id)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&runModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}
		return tx.Where("run_id = ?", id).Delete(&tradeModel{}).Error
	})
}

func newRunModel(id string, meta RunMeta, res backtest.Result) (runModel, error) {
	cfg, err := marshalJSON(meta.Config)
	if err != nil {
		return runModel{}, err
	}
	stats, err := res.MarshalStats()
	if err != nil {
		return runModel{}, err
	}
	equity, err := marshalJSON(res.Equity)
	if err != nil {
		return runModel{}, err
	}
	var open datatypes.JSON
	if res.OpenPosition != nil {
		if open, err = marshalJSON(res.OpenPosition); err != nil {
			return runModel{}, err
		}
	}
	now := time.Now().Unix()
	return runModel{
		ID:               id,
		Strategy:         res.Strategy,
		Symbol:           meta.Symbol,
		Timeframe:        meta.Timeframe,
		DataSource:       meta.DataSource,
		Status:           storemodel.RunStatusDone,
		InitialCapital:   roundMoney(res.InitialCapital),
		FinalValue:       roundMoney(res.FinalValue),
		ReturnPct:        roundPct(res.ReturnPct),
		TradesExecuted:   res.TradesExecuted,
		Bars:             res.Stats.Bars,
		ConfigJSON:       cfg,
		StatsJSON:        datatypes.JSON(stats),
		EquityJSON:       equity,
		OpenPositionJSON: open,
		CreatedAtUnix:    now,
		FinishedAtUnix:   &now,
	}, nil
}

func newTradeModel(runID string, t backtest.Trade) tradeModel {
	return tradeModel{
		RunID:      runID,
		Seq:        t.Seq,
		TimeMillis: t.Time,
		Action:     string(t.Action),
		Side:       string(t.Side),
		Price:      t.Price,
		Size:       t.Size,
		Balance:    roundMoney(t.Balance),
		StopLoss:   t.StopLoss,
		TakeProfit: t.TakeProfit,
		PnL:        roundMoney(t.PnL),
		Reason:     string(t.Reason),
	}
}

func runModelToRecord(m runModel) (RunRecord, error) {
	rec := RunRecord{
		ID:             m.ID,
		Strategy:       m.Strategy,
		Symbol:         m.Symbol,
		Timeframe:      m.Timeframe,
		DataSource:     m.DataSource,
		Status:         m.Status,
		Message:        m.Message,
		InitialCapital: m.InitialCapital,
		FinalValue:     m.FinalValue,
		ReturnPct:      m.ReturnPct,
		TradesExecuted: m.TradesExecuted,
		Bars:           m.Bars,
		CreatedAt:      time.Unix(m.CreatedAtUnix, 0),
	}
	if len(m.ConfigJSON) > 0 {
		rec.Config = json.RawMessage(m.ConfigJSON)
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &rec.Stats); err != nil {
			return RunRecord{}, fmt.Errorf("decode stats of run %s: %w", m.ID, err)
		}
	}
	if len(m.EquityJSON) > 0 {
		if err := json.Unmarshal(m.EquityJSON, &rec.Equity); err != nil {
			return RunRecord{}, fmt.Errorf("decode equity of run %s: %w", m.ID, err)
		}
	}
	if len(m.OpenPositionJSON) > 0 {
		var pos backtest.Position
		if err := json.Unmarshal(m.OpenPositionJSON, &pos); err != nil {
			return RunRecord{}, fmt.Errorf("decode open position of run %s: %w", m.ID, err)
		}
		rec.OpenPosition = &pos
	}
	if m.FinishedAtUnix != nil {
		t := time.Unix(*m.FinishedAtUnix, 0)
		rec.FinishedAt = &t
	}
	return rec, nil
}

func tradeModelToTrade(m tradeModel) backtest.Trade {
	return backtest.Trade{
		Seq:        m.Seq,
		Time:       m.TimeMillis,
		Action:     backtest.Action(m.Action),
		Side:       backtest.Side(m.Side),
		Price:      m.Price,
		Size:       m.Size,
		Balance:    m.Balance,
		StopLoss:   m.StopLoss,
		TakeProfit: m.TakeProfit,
		PnL:        m.PnL,
		Reason:     backtest.Reason(m.Reason),
	}
}

// roundMoney 把金额规整到 1e-8，去掉浮点尾数噪声。
func roundMoney(v float64) float64 {
	return decimal.NewFromFloat(v).Round(8).InexactFloat64()
}

func roundPct(v float64) float64 {
	return decimal.NewFromFloat(v).Round(6).InexactFloat64()
}

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return datatypes.JSON(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
