package backtesthttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/config"
	"backlab/internal/logger"
	"backlab/internal/market"
	"backlab/internal/report"
	"backlab/internal/store/gormstore"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr     string
	svc      *backtest.Service
	fetcher  *market.Fetcher
	candles  *market.Store
	runs     *gormstore.GormStore
	settings func() *config.Config
	schemas  requestSchemas
	router   *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖；Settings 每次请求取一次，配合热加载。
type Config struct {
	Addr     string
	Service  *backtest.Service
	Fetcher  *market.Fetcher
	Candles  *market.Store
	Runs     *gormstore.GormStore
	Settings func() *config.Config
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Settings == nil {
		return nil, errors.New("settings 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultHTTPAddr
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:     cfg.Addr,
		svc:      cfg.Service,
		fetcher:  cfg.Fetcher,
		candles:  cfg.Candles,
		runs:     cfg.Runs,
		settings: cfg.Settings,
		schemas:  schemas,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger 以 debug 级别记录每个请求。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Slog().Debug("[http] request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

// Handler 暴露路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api := s.router.Group("/api/backtest")
	api.POST("/fetch", s.handleFetch)
	api.GET("/fetch/:id", s.handleFetchStatus)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/integrity", s.handleIntegrity)
	api.GET("/candles", s.handleCandles)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.DELETE("/runs/:id", s.handleRunDelete)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/chart", s.handleRunChart)
}

type fetchRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	StartTS   int64  `json:"start_ts"`
	EndTS     int64  `json:"end_ts"`
}

func (s *Server) handleFetch(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "补数器未启用"})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req fetchRequest
	if err := validateBody(s.schemas.fetch, body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.fetcher.Submit(c.Request.Context(), market.FetchParams{
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *Server) handleFetchStatus(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "补数器未启用"})
		return
	}
	job, ok := s.fetcher.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleJobs(c *gin.Context) {
	if s.fetcher == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []market.FetchJob{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.fetcher.Jobs()})
}

func (s *Server) handleManifest(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "K 线缓存未启用"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" && tf == "" {
		list, err := s.candles.Manifests(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"manifests": list})
		return
	}
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	info, err := s.candles.Manifest(c.Request.Context(), strings.ToUpper(symbol), tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *Server) handleIntegrity(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "K 线缓存未启用"})
		return
	}
	symbol := c.Query("symbol")
	tf, err := market.ParseTimeframe(c.Query("timeframe"))
	if symbol == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 非法"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	if end <= start {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_ts 必须大于 start_ts"})
		return
	}
	rep, err := s.candles.CheckIntegrity(c.Request.Context(), strings.ToUpper(symbol), tf, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep, "complete": rep.Complete()})
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	data, err := s.svc.LoadCandles(c.Request.Context(), backtest.DataRequest{
		Symbol: symbol, Timeframe: tf, Start: start, End: end,
	})
	if errors.Is(err, backtest.ErrNoData) {
		c.JSON(http.StatusOK, gin.H{"candles": []market.Candle{}})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit > 0 && len(data) > limit {
		data = data[len(data)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

// runRequest 中的指针字段为空时沿用当前配置。
type runRequest struct {
	Strategy      string          `json:"strategy"`
	Symbol        string          `json:"symbol"`
	Timeframe     string          `json:"timeframe"`
	StartTS       int64           `json:"start_ts"`
	EndTS         int64           `json:"end_ts"`
	Candles       []market.Candle `json:"candles"`
	InitialCap    *float64        `json:"initial_capital"`
	RiskPercent   *float64        `json:"risk_percent"`
	MaxTrades     *int            `json:"max_trades"`
	TakeProfitR   *float64        `json:"take_profit_r"`
	StopLookback  *int            `json:"stop_lookback"`
	Window        *int            `json:"window"`
	TakeProfitPct *float64        `json:"take_profit_pct"`
	StopLossPct   *float64        `json:"stop_loss_pct"`
	ShortWindow   *int            `json:"short_window"`
	LongWindow    *int            `json:"long_window"`
}

func (r runRequest) spec(cfg *config.Config) backtest.RunSpec {
	spec := backtest.NewRunSpec(cfg, r.Strategy)
	setFloat(&spec.Backtest.InitialCapital, r.InitialCap)
	setFloat(&spec.Backtest.RiskPercent, r.RiskPercent)
	setInt(&spec.Backtest.MaxTrades, r.MaxTrades)
	setFloat(&spec.Breakout.TakeProfitR, r.TakeProfitR)
	setInt(&spec.Breakout.StopLookback, r.StopLookback)
	setInt(&spec.Breakout.Window, r.Window)
	setFloat(&spec.Crossover.TakeProfitPct, r.TakeProfitPct)
	setFloat(&spec.Crossover.StopLossPct, r.StopLossPct)
	setInt(&spec.Crossover.ShortWindow, r.ShortWindow)
	setInt(&spec.Crossover.LongWindow, r.LongWindow)
	return spec
}

func (r runRequest) data() backtest.DataRequest {
	return backtest.DataRequest{
		Symbol:    r.Symbol,
		Timeframe: r.Timeframe,
		Start:     r.StartTS,
		End:       r.EndTS,
		Candles:   r.Candles,
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func (s *Server) handleRunStart(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req runRequest
	if err := validateBody(s.schemas.run, body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec := req.spec(s.settings())
	data := req.data()
	meta := gormstore.RunMeta{
		ID:         uuid.NewString(),
		Symbol:     strings.ToUpper(req.Symbol),
		Timeframe:  req.Timeframe,
		DataSource: data.Describe(),
		Config:     spec,
	}
	started := time.Now()
	res, err := s.svc.Execute(c.Request.Context(), spec, data, backtest.WithPacer(backtest.NoopPacer{}))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, backtest.ErrNoData) {
			status = http.StatusNotFound
		}
		if s.runs != nil && !errors.Is(err, context.Canceled) {
			if _, saveErr := s.runs.SaveFailedRun(c.Request.Context(), meta, spec.Strategy, err); saveErr != nil {
				logger.Warnf("[http] 记录失败回测出错: %v", saveErr)
			}
		}
		c.JSON(status, gin.H{"error": err.Error(), "run_id": meta.ID})
		return
	}
	logger.Infof("[http] run %s finished in %s", meta.ID, time.Since(started).Round(time.Millisecond))
	if s.runs == nil {
		c.JSON(http.StatusOK, gin.H{"run_id": meta.ID, "result": res})
		return
	}
	rec, err := s.runs.SaveRun(c.Request.Context(), meta, res)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run": rec, "result": res})
}

func (s *Server) handleRunList(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	run, err := s.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunDelete(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	if err := s.runs.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRunTrades(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if _, err := s.runs.GetRun(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	trades, err := s.runs.ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunChart(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
		return
	}
	ctx := c.Request.Context()
	run, err := s.runs.GetRun(ctx, c.Param("id"))
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	trades, err := s.runs.ListTrades(ctx, run.ID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	html, err := report.EquityChartHTML(backtest.Result{
		Strategy:       run.Strategy,
		InitialCapital: run.InitialCapital,
		FinalValue:     run.FinalValue,
		ReturnPct:      run.ReturnPct,
		TradesExecuted: run.TradesExecuted,
		Trades:         trades,
		Equity:         run.Equity,
		Stats:          run.Stats,
	}, run.Strategy+" "+run.Symbol)
	if errors.Is(err, report.ErrNoEquity) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func statusOf(err error) int {
	if errors.Is(err, gormstore.ErrRunNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
