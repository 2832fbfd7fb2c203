package run

import (
	"sync"
	"time"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// Counters 是单次批次的计数器。
//
// 每次 Execute 创建一个新实例；worker 与观察方可以并发访问。
type Counters struct {
	mu sync.Mutex

	started time.Time
	total   int
	done    int
	valid   int
	trash   int
	skipped int
	failed  int
	active  int
}

func newCounters(total int, started time.Time) *Counters {
	return &Counters{total: total, started: started}
}

func (c *Counters) begin() {
	c.mu.Lock()
	c.active++
	c.mu.Unlock()
}

// finish 记录一条终态，返回记录之后的完成数。
// dispatched=false 用于从未派发给 worker 的条目（例如取消后剩下的 id）。
func (c *Counters) finish(res domain.ItemResult, dispatched bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dispatched {
		c.active--
	}
	c.done++
	switch res.Status {
	case domain.StatusPersisted, domain.StatusChecked:
		if res.Classification == domain.ClassTrash {
			c.trash++
		} else {
			c.valid++
		}
	case domain.StatusSkipped:
		c.skipped++
	case domain.StatusFailed:
		c.failed++
	}
	return c.done
}

// Snapshot 返回当前计数的副本。
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Total:   c.total,
		Done:    c.done,
		Valid:   c.valid,
		Trash:   c.trash,
		Skipped: c.skipped,
		Failed:  c.failed,
		Active:  c.active,
		Elapsed: time.Since(c.started),
	}
}
