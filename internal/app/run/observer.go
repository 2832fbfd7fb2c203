package run

import (
	"time"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// Observer 用于把“运行进度/批次汇总/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：CLI 的 keepalive ticker 可能与 run 同时调用它。
type Observer interface {
	// OnStart 在 Execute 开始时调用（去重之后，派发之前）。
	OnStart(runID string, total, workers int, dryRun bool)
	// OnItemDone 在某个 app_id 处理完成时调用。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
	// OnSummary 每完成 summary_every 条调用一次，结束时再调用一次（final=true）。
	OnSummary(s Snapshot, final bool)
}

// Snapshot 是某一时刻批次计数器的只读副本。
type Snapshot struct {
	Total   int
	Done    int
	Valid   int
	Trash   int
	Skipped int
	Failed  int
	Active  int
	Elapsed time.Duration
}
