package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/John-Robertt/steamscrape/internal/app/run"
	"github.com/John-Robertt/steamscrape/internal/config"
	"github.com/John-Robertt/steamscrape/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行
type progressUI struct {
	w   io.Writer
	eff config.EffectiveConfig

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int
	skip    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer, eff config.EffectiveConfig) *progressUI {
	return &progressUI{
		w:                  w,
		eff:                eff,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(runID string, total, workers int, dryRun bool) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.startedAt = now
	p.total = total
	p.workers = workers

	mode := "write"
	modeHint := ""
	if dryRun {
		mode = "dry-run"
		modeHint = " (不落盘)"
	}

	fmt.Fprintf(p.w, "[%s] steamscrape scrape (%s) run_id=%s\n", now.Format("15:04:05"), mode, runID)
	fmt.Fprintln(p.w, "配置（生效）:")
	if p.eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", p.eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  base_url: %s (l=%s)\n", p.eff.BaseURL, p.eff.Language)
	fmt.Fprintf(p.w, "  concurrency: %d  delay: %s  timeout: %s  retry_max: %d\n",
		workers, p.eff.Delay, p.eff.Timeout, p.eff.RetryMax,
	)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(p.eff.ProxyURL))
	fmt.Fprintf(p.w, "  validation: %s\n", p.eff.Validation)
	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  valid: %s\n", p.eff.ValidDir)
	fmt.Fprintf(p.w, "  trash: %s\n", p.eff.TrashDir)
	fmt.Fprintf(p.w, "执行: workers=%d total=%d\n\n", workers, total)

	p.lastPrinted = time.Now()
	if total > 0 && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusPersisted, domain.StatusChecked:
		p.ok++
	case domain.StatusFailed:
		p.fail++
	case domain.StatusSkipped:
		p.skip++
	}

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] %d FAIL %s: %s (%s)\n",
			idx, total, res.AppID, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		fmt.Fprintf(p.w, "[%d/%d] %d SKIP (已有记录) (%s)\n",
			idx, total, res.AppID, formatShortDuration(dur),
		)
	default:
		status := "OK"
		if res.Status == domain.StatusChecked {
			status = "CHECK"
		}
		fmt.Fprintf(p.w, "[%d/%d] %d %s %s (%s)\n",
			idx, total, res.AppID, status, res.Classification, formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnSummary(s run.Snapshot, final bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !final {
		fmt.Fprintf(p.w, "汇总: done=%d/%d valid=%d trash=%d skip=%d fail=%d elapsed=%s\n",
			s.Done, s.Total, s.Valid, s.Trash, s.Skipped, s.Failed, formatElapsed(s.Elapsed),
		)
		p.lastPrinted = time.Now()
		return
	}

	// 结束：停止 ticker，避免在最终表格之后又冒出 keepalive。
	if p.tickerStarted {
		close(p.stopCh)
		p.tickerStarted = false
	}

	fmt.Fprintln(p.w)
	renderSummary(p.w, s)
	p.lastPrinted = time.Now()
}

func renderSummary(w io.Writer, s run.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"total", "valid", "trash", "skipped", "failed", "elapsed"})
	t.AppendRow(table.Row{s.Total, s.Valid, s.Trash, s.Skipped, s.Failed, formatElapsed(s.Elapsed)})
	t.Render()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, p.skip, active, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string { return clip(strings.TrimSpace(s), max) }

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
