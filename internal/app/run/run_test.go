package run

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/fetch"
	"github.com/John-Robertt/steamscrape/internal/store"
)

var fixedNow = func() time.Time { return time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC) }

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "..", "extract", "testdata", name))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

type env struct {
	root  string
	store *store.Store
}

func newEnv(t *testing.T) env {
	t.Helper()
	root := t.TempDir()
	return env{
		root:  root,
		store: store.New(filepath.Join(root, "games"), filepath.Join(root, "trash")),
	}
}

// pages 按 id 返回固定 HTML；未登记的 id 返回 404。
func pages(calls *atomic.Int64, byID map[domain.AppID][]byte) fetch.Fetcher {
	return fetch.Func(func(ctx context.Context, id domain.AppID) ([]byte, error) {
		calls.Add(1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, ok := byID[id]
		if !ok {
			return nil, &fetch.Error{AppID: id, Err: &fetch.StatusError{StatusCode: 404}}
		}
		return b, nil
	})
}

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	startTotal int
	items      []domain.AppID
	summaries  []Snapshot
	finals     []bool
}

func (o *recordObserver) OnStart(runID string, total, workers int, dryRun bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
	o.startTotal = total
}

func (o *recordObserver) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, res.AppID)
}

func (o *recordObserver) OnSummary(s Snapshot, final bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, s)
	o.finals = append(o.finals, final)
}

func TestExecute_PersistsValidAndTrashThenSkipsOnRerun(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	deps := Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{
			10: fixture(t, "round_table.html"),
			20: fixture(t, "agegate.html"),
		}),
		Store: e.store,
		Now:   fixedNow,
	}
	opts := Options{IDs: []domain.AppID{20, 10}, DataDir: e.root, Concurrency: 2}

	rr := Execute(context.Background(), deps, opts, nil)
	if rr.Summary.Valid != 1 || rr.Summary.Trash != 1 || rr.Summary.Failed != 0 {
		t.Fatalf("summary 不符合预期：%+v items=%+v", rr.Summary, rr.Items)
	}
	if rr.Items[0].AppID != 10 || rr.Items[0].Status != domain.StatusPersisted || rr.Items[0].Classification != domain.ClassValid {
		t.Fatalf("10 应落盘为 valid：%+v", rr.Items[0])
	}
	if rr.Items[1].Classification != domain.ClassTrash || rr.Items[1].Path != filepath.Join(e.root, "trash", "20.json") {
		t.Fatalf("20 应落盘到 trash 分区：%+v", rr.Items[1])
	}
	if rr.RunID == "" {
		t.Fatalf("run_id 不应为空")
	}

	validPath := filepath.Join(e.root, "games", "10.json")
	before, err := os.ReadFile(validPath)
	if err != nil {
		t.Fatalf("读取记录失败：%v", err)
	}
	if _, err := os.Stat(filepath.Join(e.root, "games", "20.json")); !os.IsNotExist(err) {
		t.Fatalf("trash 记录不应出现在 valid 分区：%v", err)
	}

	// 第二次运行：全部跳过，不再抓取，磁盘内容不变。
	calls.Store(0)
	deps.Now = func() time.Time { return fixedNow().Add(time.Hour) }
	rr2 := Execute(context.Background(), deps, opts, nil)
	if rr2.Summary.Skipped != 2 || rr2.Summary.Valid != 0 || rr2.Summary.Trash != 0 {
		t.Fatalf("重跑应全部跳过：%+v", rr2.Summary)
	}
	if calls.Load() != 0 {
		t.Fatalf("已有记录不应再抓取，实际抓取 %d 次", calls.Load())
	}
	after, err := os.ReadFile(validPath)
	if err != nil {
		t.Fatalf("读取记录失败：%v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("重跑不应改变已有记录")
	}
}

func TestExecute_SummaryEveryFiftyPlusFinal(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	html := fixture(t, "round_table.html")
	byID := map[domain.AppID][]byte{}
	ids := make([]domain.AppID, 0, 120)
	for i := 1; i <= 120; i++ {
		id := domain.AppID(1000 + i)
		byID[id] = html
		ids = append(ids, id)
	}

	obs := &recordObserver{}
	rr := Execute(context.Background(), Deps{Fetcher: pages(&calls, byID), Store: e.store, Now: fixedNow},
		Options{IDs: ids, Concurrency: 4, SummaryEvery: 50}, obs)

	if rr.Summary.Valid != 120 {
		t.Fatalf("期望 120 条 valid，实际：%+v", rr.Summary)
	}
	if obs.startCalls != 1 || obs.startTotal != 120 {
		t.Fatalf("OnStart 不符合预期：calls=%d total=%d", obs.startCalls, obs.startTotal)
	}
	if len(obs.items) != 120 {
		t.Fatalf("期望 120 个条目事件，实际 %d", len(obs.items))
	}

	var done []int
	for _, s := range obs.summaries {
		done = append(done, s.Done)
	}
	if diff := cmp.Diff([]int{50, 100, 120}, done); diff != "" {
		t.Fatalf("汇总节奏不符合预期 (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, false, true}, obs.finals); diff != "" {
		t.Fatalf("final 标记不符合预期 (-want +got):\n%s", diff)
	}
	last := obs.summaries[2]
	if last.Valid != 120 || last.Active != 0 {
		t.Fatalf("最终汇总不符合预期：%+v", last)
	}
}

func TestExecute_FetchFailureDoesNotStopBatch(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	rr := Execute(context.Background(), Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{1: fixture(t, "round_table.html"), 3: fixture(t, "round_table.html")}),
		Store:   e.store,
		Now:     fixedNow,
	}, Options{IDs: []domain.AppID{1, 2, 3}, Concurrency: 1}, nil)

	if rr.Summary.Valid != 2 || rr.Summary.Failed != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	it := rr.Items[1]
	if it.AppID != 2 || it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("2 应为 fetch_failed：%+v", it)
	}
	if it.URL != "https://store.steampowered.com/app/2/" {
		t.Fatalf("失败条目也应带 URL：%q", it.URL)
	}
	if ok, _ := e.store.Exists(2); ok {
		t.Fatalf("抓取失败不应产生记录")
	}
}

func TestExecute_PanicIsIsolatedToItem(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	inner := pages(&calls, map[domain.AppID][]byte{1: fixture(t, "round_table.html"), 3: fixture(t, "round_table.html")})
	rr := Execute(context.Background(), Deps{
		Fetcher: fetch.Func(func(ctx context.Context, id domain.AppID) ([]byte, error) {
			if id == 2 {
				panic("slice bounds out of range")
			}
			return inner.Fetch(ctx, id)
		}),
		Store: e.store,
		Now:   fixedNow,
	}, Options{IDs: []domain.AppID{1, 2, 3}, Concurrency: 2}, nil)

	if rr.Summary.Requested != 3 || rr.Summary.Valid != 2 || rr.Summary.Failed != 1 {
		t.Fatalf("panic 不应中断批次：%+v", rr.Summary)
	}
	for _, it := range rr.Items {
		if it.AppID != 2 {
			continue
		}
		if it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeInternal || it.URL == "" {
			t.Fatalf("2 应为 internal_error：%+v", it)
		}
		return
	}
	t.Fatalf("缺少 2 的结果：%+v", rr.Items)
}

func TestExecute_StoreFailureIsPerItem(t *testing.T) {
	root := t.TempDir()
	trash := filepath.Join(root, "trash")
	if err := os.WriteFile(trash, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
	st := store.New(filepath.Join(root, "games"), trash)

	var calls atomic.Int64
	rr := Execute(context.Background(), Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{
			10: fixture(t, "round_table.html"),
			20: fixture(t, "agegate.html"),
		}),
		Store: st,
		Now:   fixedNow,
	}, Options{IDs: []domain.AppID{10, 20}, Concurrency: 2}, nil)

	byID := map[domain.AppID]domain.ItemResult{}
	for _, it := range rr.Items {
		byID[it.AppID] = it
	}
	if byID[10].Status != domain.StatusPersisted {
		t.Fatalf("valid 分区可写时 10 应落盘：%+v", byID[10])
	}
	if byID[20].Status != domain.StatusFailed || byID[20].ErrorCode != domain.ErrCodeStoreFailed {
		t.Fatalf("trash 分区不可写时 20 应为 store_failed：%+v", byID[20])
	}
}

func TestExecute_DuplicatesAreFetchedOnce(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	rr := Execute(context.Background(), Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{7: fixture(t, "round_table.html")}),
		Store:   e.store,
		Now:     fixedNow,
	}, Options{IDs: []domain.AppID{7, 7, 7, 0, -1}, Concurrency: 4}, nil)

	if calls.Load() != 1 {
		t.Fatalf("重复 id 应只抓取一次，实际 %d 次", calls.Load())
	}
	if rr.Summary.Requested != 1 || len(rr.Items) != 1 {
		t.Fatalf("去重后应只有 1 条：%+v", rr.Summary)
	}
}

func TestExecute_DryRunWritesNothing(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	rr := Execute(context.Background(), Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{
			10: fixture(t, "round_table.html"),
			20: fixture(t, "agegate.html"),
		}),
		Store: store.New(filepath.Join(e.root, "games"), filepath.Join(e.root, "trash"), store.WithReadOnly(true)),
		Now:   fixedNow,
	}, Options{IDs: []domain.AppID{10, 20}, DryRun: true}, nil)

	if !rr.DryRun {
		t.Fatalf("report 应标记 dry_run")
	}
	for _, it := range rr.Items {
		if it.Status != domain.StatusChecked {
			t.Fatalf("dry-run 条目应为 checked：%+v", it)
		}
	}
	if rr.Summary.Valid != 1 || rr.Summary.Trash != 1 {
		t.Fatalf("dry-run 仍应给出分类统计：%+v", rr.Summary)
	}
	if _, err := os.Stat(filepath.Join(e.root, "games")); !os.IsNotExist(err) {
		t.Fatalf("dry-run 不应创建目录：%v", err)
	}
}

func TestExecute_CanceledBeforeStart(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	rr := Execute(ctx, Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{}),
		Store:   e.store,
	}, Options{IDs: []domain.AppID{1, 2, 3}, Concurrency: 2}, nil)

	if calls.Load() != 0 {
		t.Fatalf("取消后不应再抓取，实际 %d 次", calls.Load())
	}
	if rr.Summary.Failed != 3 {
		t.Fatalf("期望 3 条 canceled：%+v", rr.Summary)
	}
	for _, it := range rr.Items {
		if it.ErrorCode != domain.ErrCodeCanceled {
			t.Fatalf("错误码应为 canceled：%+v", it)
		}
	}
}

func TestExecute_CancelMidBatchFinishesStartedWrite(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	html := fixture(t, "round_table.html")
	var calls atomic.Int64
	f := fetch.Func(func(_ context.Context, id domain.AppID) ([]byte, error) {
		calls.Add(1)
		// 第一条抓取成功后立刻取消批次。
		cancel()
		return html, nil
	})

	rr := Execute(ctx, Deps{Fetcher: f, Store: e.store, Now: fixedNow},
		Options{IDs: []domain.AppID{1, 2, 3, 4}, Concurrency: 1}, nil)

	if calls.Load() != 1 {
		t.Fatalf("取消后不应继续抓取，实际 %d 次", calls.Load())
	}
	if rr.Items[0].Status != domain.StatusPersisted {
		t.Fatalf("已抓取的条目应完成写入：%+v", rr.Items[0])
	}
	if ok, _ := e.store.Exists(1); !ok {
		t.Fatalf("1 应已落盘")
	}
	for _, it := range rr.Items[1:] {
		if it.Status != domain.StatusFailed || it.ErrorCode != domain.ErrCodeCanceled {
			t.Fatalf("其余条目应为 canceled：%+v", it)
		}
	}
	if rr.Summary.Requested != 4 {
		t.Fatalf("requested 应包含未派发的 id：%+v", rr.Summary)
	}
}

func TestExecute_LogsCarryRunID(t *testing.T) {
	e := newEnv(t)
	core, logs := observer.New(zapcore.InfoLevel)

	var calls atomic.Int64
	Execute(context.Background(), Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{}),
		Store:   e.store,
		Log:     zap.New(core),
	}, Options{IDs: []domain.AppID{5}, RunID: "run-123"}, nil)

	if logs.FilterField(zap.String("run_id", "run-123")).Len() == 0 {
		t.Fatalf("日志应带 run_id 字段")
	}
	warn := logs.FilterMessage("抓取失败").All()
	if len(warn) != 1 || warn[0].ContextMap()["app_id"] != int64(5) {
		t.Fatalf("抓取失败日志应带 app_id：%+v", warn)
	}
}

type lostRaceStore struct{ *store.Store }

func (s lostRaceStore) Write(domain.GameRecord) (string, error) { return "", store.ErrExists }

func TestExecute_LostWriteRaceIsSkipped(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	rr := Execute(context.Background(), Deps{
		Fetcher: pages(&calls, map[domain.AppID][]byte{9: fixture(t, "round_table.html")}),
		Store:   lostRaceStore{e.store},
		Now:     fixedNow,
	}, Options{IDs: []domain.AppID{9}}, nil)

	it := rr.Items[0]
	if it.Status != domain.StatusSkipped || it.ErrorCode != "" || it.Classification != "" {
		t.Fatalf("写入竞争失败应记为 skipped：%+v", it)
	}
}
