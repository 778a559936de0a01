package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"backlab/internal/logger"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusPartial = "partial"
	JobStatusFailed  = "failed"
)

// FetchParams 描述一次补数请求（毫秒时间）。
type FetchParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchJob 是异步补数任务的状态快照。
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Inserted  int         `json:"inserted"`
	Missing   []Gap       `json:"missing"`
	Warnings  []string    `json:"warnings,omitempty"`
	Message   string      `json:"message,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]Gap(nil), j.Missing...)
	out.Warnings = append([]string(nil), j.Warnings...)
	return out
}

// FetcherConfig 配置 Fetcher。
type FetcherConfig struct {
	Store           *Store
	Source          CandleSource
	RateLimitPerMin int
	MaxBatch        int
}

// Fetcher 按缺口分批拉取远端 K 线并写入缓存，请求受令牌桶限速。
type Fetcher struct {
	store    *Store
	source   CandleSource
	maxBatch int
	limiter  *rate.Limiter

	mu   sync.RWMutex
	jobs map[string]*FetchJob
}

func NewFetcher(cfg FetcherConfig) (*Fetcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fetcher requires a store")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("fetcher requires a candle source")
	}
	limit := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		limit = rate.Inf
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Fetcher{
		store:    cfg.Store,
		source:   cfg.Source,
		maxBatch: maxBatch,
		limiter:  rate.NewLimiter(limit, 1),
		jobs:     make(map[string]*FetchJob),
	}, nil
}

// Sync 同步补齐 params 区间内的缺口，返回最终的完整度报告。
func (f *Fetcher) Sync(ctx context.Context, params FetchParams) (FetchJob, error) {
	job, tf, report, err := f.prepare(ctx, params)
	if err != nil {
		return FetchJob{}, err
	}
	f.run(ctx, job, tf, report)
	return job.copy(), nil
}

// Submit 在后台执行补数任务，立即返回任务快照。
func (f *Fetcher) Submit(ctx context.Context, params FetchParams) (FetchJob, error) {
	job, tf, report, err := f.prepare(ctx, params)
	if err != nil {
		return FetchJob{}, err
	}
	f.mu.Lock()
	f.jobs[job.ID] = job
	snapshot := job.copy()
	f.mu.Unlock()
	go f.run(context.WithoutCancel(ctx), job, tf, report)
	return snapshot, nil
}

// Job 返回任务副本。
func (f *Fetcher) Job(id string) (FetchJob, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	job, ok := f.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// Jobs 返回所有任务（按开始时间倒序）。
func (f *Fetcher) Jobs() []FetchJob {
	f.mu.RLock()
	out := make([]FetchJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		out = append(out, job.copy())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (f *Fetcher) prepare(ctx context.Context, params FetchParams) (*FetchJob, Timeframe, IntegrityReport, error) {
	params.Symbol = strings.ToUpper(strings.TrimSpace(params.Symbol))
	if params.Symbol == "" {
		return nil, Timeframe{}, IntegrityReport{}, fmt.Errorf("symbol must not be empty")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return nil, Timeframe{}, IntegrityReport{}, err
	}
	params.Timeframe = tf.Key
	params.Start, params.End = tf.AlignRange(params.Start, params.End)
	if params.Start == params.End {
		return nil, Timeframe{}, IntegrityReport{}, fmt.Errorf("start and end must span at least one %s candle", tf.Key)
	}
	report, err := f.store.CheckIntegrity(ctx, params.Symbol, tf, params.Start, params.End)
	if err != nil {
		return nil, Timeframe{}, IntegrityReport{}, err
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: report.Present,
		Missing:   append([]Gap(nil), report.Gaps...),
		StartedAt: now,
		UpdatedAt: now,
	}
	logger.Infof("[market] job %s %s %s [%d,%d] expected=%d gaps=%d via %s",
		job.ID, params.Symbol, tf.Key, params.Start, params.End, report.Expected, len(report.Gaps), f.source.Name())
	return job, tf, report, nil
}

func (f *Fetcher) run(ctx context.Context, job *FetchJob, tf Timeframe, report IntegrityReport) {
	if report.Complete() {
		f.update(job, func(j *FetchJob) {
			j.Status = JobStatusDone
			j.Message = "cache already complete"
		})
		return
	}
	f.update(job, func(j *FetchJob) { j.Status = JobStatusRunning })

	params := job.Params
	step := tf.Millis()
	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := f.limiter.Wait(ctx); err != nil {
				f.fail(job, err.Error())
				return
			}
			batch := int((gap.To-cursor)/step) + 1
			if batch > f.maxBatch {
				batch = f.maxBatch
			}
			data, err := f.source.Fetch(ctx, FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To + step - 1,
				Limit:    batch,
			})
			if err != nil {
				f.fail(job, fmt.Sprintf("%s fetch failed: %v", f.source.Name(), err))
				return
			}
			if len(data) == 0 {
				f.update(job, func(j *FetchJob) {
					j.Warnings = append(j.Warnings, fmt.Sprintf("empty response for [%d,%d]", cursor, gap.To))
				})
				break
			}
			inserted, err := f.store.InsertCandles(ctx, params.Symbol, tf.Key, data)
			if err != nil {
				f.fail(job, fmt.Sprintf("store failed: %v", err))
				return
			}
			f.update(job, func(j *FetchJob) {
				j.Inserted += inserted
				j.Completed += int64(inserted)
			})
			next := data[len(data)-1].OpenTime + step
			if next <= cursor {
				break
			}
			cursor = next
		}
	}

	final, err := f.store.CheckIntegrity(ctx, params.Symbol, tf, params.Start, params.End)
	if err != nil {
		f.fail(job, "integrity check failed: "+err.Error())
		return
	}
	var status string
	f.update(job, func(j *FetchJob) {
		j.Completed = final.Present
		j.Missing = append([]Gap(nil), final.Gaps...)
		if final.Complete() {
			j.Status = JobStatusDone
			j.Message = "fetch complete"
		} else {
			j.Status = JobStatusPartial
			j.Message = "fetch finished with gaps remaining"
		}
		status = j.Status
	})
	logger.Infof("[market] job %s finished status=%s gaps=%d", job.ID, status, len(final.Gaps))
}

func (f *Fetcher) fail(job *FetchJob, msg string) {
	f.update(job, func(j *FetchJob) {
		j.Status = JobStatusFailed
		j.Message = msg
	})
	logger.Errorf("[market] job %s failed: %s", job.ID, msg)
}

func (f *Fetcher) update(job *FetchJob, fn func(*FetchJob)) {
	f.mu.Lock()
	fn(job)
	job.UpdatedAt = time.Now()
	f.mu.Unlock()
}
