package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// 单个 app_id 的终态。
const (
	StatusPersisted = "persisted"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"

	// StatusChecked 只出现在 dry-run：抓取、解析与分类都已完成，但没有落盘。
	StatusChecked = "checked"
)

const (
	ErrCodeFetchFailed   = "fetch_failed"
	ErrCodeExtractFailed = "extract_failed"
	ErrCodeBuildFailed   = "build_failed"
	ErrCodeStoreFailed   = "store_failed"
	ErrCodeCanceled      = "canceled"
	ErrCodeConfigInvalid = "config_invalid"
	ErrCodeInternal      = "internal_error"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID   string `json:"run_id"`
	DataDir string `json:"data_dir"`
	DryRun  bool   `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Requested int `json:"requested"`
	Valid     int `json:"valid"`
	Trash     int `json:"trash"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type ItemResult struct {
	AppID AppID  `json:"app_id"`
	URL   string `json:"url"`

	Status         string         `json:"status"`
	Classification Classification `json:"classification,omitempty"`
	Path           string         `json:"path,omitempty"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 app_id 升序；app_id==0 的合成条目排在最后
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].AppID
		b := r.Items[j].AppID
		if a == 0 {
			return false
		}
		if b == 0 {
			return true
		}
		return a < b
	})

	var s ReportSummary
	for _, it := range r.Items {
		if it.AppID != 0 {
			s.Requested++
		}
		switch it.Status {
		case StatusPersisted, StatusChecked:
			if it.Classification == ClassTrash {
				s.Trash++
			} else {
				s.Valid++
			}
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	return json.Marshal(Alias(r))
}
