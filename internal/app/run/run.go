package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/extract"
	"github.com/John-Robertt/steamscrape/internal/fetch"
	"github.com/John-Robertt/steamscrape/internal/record"
	"github.com/John-Robertt/steamscrape/internal/store"
	"github.com/John-Robertt/steamscrape/internal/validate"
)

const (
	DefaultSummaryEvery = 50

	// StaleTempAge：启动时只清理早于该时长的临时文件；更新的可能属于并行进程。
	StaleTempAge = 15 * time.Minute
)

// Store 是 run 对持久化层的最小依赖（*store.Store 满足）。
type Store interface {
	Exists(id domain.AppID) (bool, error)
	Write(rec domain.GameRecord) (string, error)
	Path(id domain.AppID, cls domain.Classification) string
	Sweep(olderThan time.Duration) (int, error)
}

// Deps 是一次 run 需要的协作者。
type Deps struct {
	Fetcher fetch.Fetcher
	Store   Store

	// Classify 为 nil 时使用 validate.Classify。
	Classify validate.Func
	// Log 为 nil 时不输出日志。
	Log *zap.Logger
	// Now 为 nil 时使用 time.Now；测试用它固定 scraped_at。
	Now func() time.Time
}

// Options 是一次 run 的参数。
type Options struct {
	IDs []domain.AppID

	// RunID 为空时生成一个 UUID。
	RunID        string
	DataDir      string
	BaseURL      string
	Concurrency  int
	SummaryEvery int
	DryRun       bool
}

// Execute 对一批 app_id 执行 抓取 -> 解析 -> 分类 -> 构建 -> 落盘，并返回对外稳定的 RunReport。
//
// 单条失败只影响该条目，不会中断批次。ctx 取消后停止派发与抓取；
// 已经开始的写入会完成，未派发的 id 记为 canceled。
func Execute(ctx context.Context, deps Deps, opts Options, obs Observer) domain.RunReport {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	classify := deps.Classify
	if classify == nil {
		classify = validate.Classify
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log = log.With(zap.String("run_id", runID))

	ids := dedup(opts.IDs)
	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(ids) && len(ids) > 0 {
		workers = len(ids)
	}
	every := opts.SummaryEvery
	if every <= 0 {
		every = DefaultSummaryEvery
	}

	started := now().UTC()
	rr := domain.RunReport{
		RunID:     runID,
		DataDir:   opts.DataDir,
		DryRun:    opts.DryRun,
		StartedAt: started,
		Items:     make([]domain.ItemResult, 0, len(ids)),
	}

	if obs != nil {
		obs.OnStart(runID, len(ids), workers, opts.DryRun)
	}
	log.Info("批次开始",
		zap.Int("requested", len(ids)),
		zap.Int("workers", workers),
		zap.Bool("dry_run", opts.DryRun),
	)

	if !opts.DryRun {
		if _, err := deps.Store.Sweep(StaleTempAge); err != nil {
			log.Warn("清理临时文件失败", zap.Error(err))
		}
	}

	counters := newCounters(len(ids), time.Now())
	p := processor{deps: deps, opts: opts, classify: classify, now: now, log: log}

	type execResult struct {
		res domain.ItemResult
		dur time.Duration
	}

	jobs := make(chan domain.AppID)
	results := make(chan execResult, len(ids))
	undispatched := make(chan []domain.AppID, 1)

	for i := 0; i < workers; i++ {
		go func() {
			for id := range jobs {
				counters.begin()
				oneStarted := time.Now()
				r := p.one(ctx, id)
				results <- execResult{res: r, dur: time.Since(oneStarted)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, id := range ids {
			if ctx.Err() != nil {
				undispatched <- ids[i:]
				return
			}
			select {
			case jobs <- id:
			case <-ctx.Done():
				undispatched <- ids[i:]
				return
			}
		}
		undispatched <- nil
	}()

	rest := []domain.AppID(nil)
	restKnown := false
	expected := len(ids)
	received := 0
	for received < expected {
		select {
		case it := <-results:
			received++
			done := counters.finish(it.res, true)
			rr.Items = append(rr.Items, it.res)
			if obs != nil {
				obs.OnItemDone(done, len(ids), it.res, it.dur)
			}
			if done%every == 0 && done < len(ids) {
				s := counters.Snapshot()
				logSummary(log, s, false)
				if obs != nil {
					obs.OnSummary(s, false)
				}
			}
		case rest = <-undispatched:
			restKnown = true
			undispatched = nil
			expected -= len(rest)
		}
	}
	if !restKnown {
		rest = <-undispatched
	}

	for _, id := range rest {
		res := domain.ItemResult{
			AppID:     id,
			URL:       domain.StoreURL(opts.BaseURL, id),
			Status:    domain.StatusFailed,
			ErrorCode: domain.ErrCodeCanceled,
			ErrorMsg:  "批次已取消，未派发",
		}
		counters.finish(res, false)
		rr.Items = append(rr.Items, res)
	}

	final := counters.Snapshot()
	logSummary(log, final, true)
	if obs != nil {
		obs.OnSummary(final, true)
	}

	rr.FinishedAt = now().UTC()
	rr.Finalize()
	return rr
}

func logSummary(log *zap.Logger, s Snapshot, final bool) {
	msg := "批次进度"
	if final {
		msg = "批次结束"
	}
	log.Info(msg,
		zap.Int("done", s.Done),
		zap.Int("total", s.Total),
		zap.Int("valid", s.Valid),
		zap.Int("trash", s.Trash),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Duration("elapsed", s.Elapsed),
	)
}

// dedup 去掉重复与非法 id，保持首次出现的顺序。
func dedup(in []domain.AppID) []domain.AppID {
	seen := make(map[domain.AppID]struct{}, len(in))
	out := make([]domain.AppID, 0, len(in))
	for _, id := range in {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type processor struct {
	deps     Deps
	opts     Options
	classify validate.Func
	now      func() time.Time
	log      *zap.Logger
}

// one 处理单个 app_id，返回其终态。不会 panic 到调用方，也不会返回 error。
func (p processor) one(ctx context.Context, id domain.AppID) (res domain.ItemResult) {
	res = domain.ItemResult{
		AppID: id,
		URL:   domain.StoreURL(p.opts.BaseURL, id),
	}
	log := p.log.With(zap.Int("app_id", int(id)))
	defer func() {
		if v := recover(); v != nil {
			log.Error("处理条目时 panic", zap.Any("panic", v), zap.Stack("stack"))
			res = failed(domain.ItemResult{AppID: res.AppID, URL: res.URL}, domain.ErrCodeInternal, fmt.Sprintf("内部错误：%v", v))
		}
	}()

	if ctx.Err() != nil {
		return failed(res, domain.ErrCodeCanceled, "批次已取消")
	}

	exists, err := p.deps.Store.Exists(id)
	if err != nil {
		log.Warn("检查已有记录失败", zap.Error(err))
		return failed(res, domain.ErrCodeStoreFailed, err.Error())
	}
	if exists {
		res.Status = domain.StatusSkipped
		log.Debug("已有记录，跳过")
		return res
	}

	html, err := p.deps.Fetcher.Fetch(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return failed(res, domain.ErrCodeCanceled, err.Error())
		}
		log.Warn("抓取失败", zap.Int("status", fetch.StatusCode(err)), zap.Error(err))
		return failed(res, domain.ErrCodeFetchFailed, err.Error())
	}

	meta, err := extract.Current(html)
	if err != nil {
		log.Warn("解析失败", zap.Error(err))
		return failed(res, domain.ErrCodeExtractFailed, err.Error())
	}
	cls := p.classify(meta)

	rec, err := record.Build(meta, cls, id, p.opts.BaseURL, html, p.now())
	if err != nil {
		log.Warn("构建记录失败", zap.Error(err))
		return failed(res, domain.ErrCodeBuildFailed, err.Error())
	}
	res.Classification = cls

	if p.opts.DryRun {
		res.Status = domain.StatusChecked
		res.Path = p.deps.Store.Path(id, cls)
		return res
	}

	// 写入不看 ctx：抓取成功后的落盘总会完成。
	path, err := p.deps.Store.Write(rec)
	switch {
	case err == nil:
		res.Status = domain.StatusPersisted
		res.Path = path
		log.Debug("已落盘", zap.String("classification", string(cls)), zap.String("path", path))
		return res
	case errors.Is(err, store.ErrExists):
		// 与并行的写入者竞争失败：对方的记录保留。
		res.Status = domain.StatusSkipped
		res.Classification = ""
		return res
	default:
		log.Warn("落盘失败", zap.Error(err))
		return failed(res, domain.ErrCodeStoreFailed, fmt.Sprintf("写入失败：%v", err))
	}
}

func failed(res domain.ItemResult, code, msg string) domain.ItemResult {
	res.Status = domain.StatusFailed
	res.Classification = ""
	res.Path = ""
	res.ErrorCode = code
	res.ErrorMsg = msg
	return res
}
