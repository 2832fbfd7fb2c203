// Package record 负责最终记录的构建与序列化。
//
// Build 是纯合并：不做校验、不取当前时间（时间由调用方传入，便于确定性测试）。
// Encode/Decode 以 version 字段为 tag：每个版本一个线上结构，读取方按版本分支。
package record

import (
	"fmt"
	"time"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// ShapeError 表示 GameMeta 的形态与目标版本不匹配（例如 1.0 记录携带结构化系统需求）。
type ShapeError struct {
	Version string
	Reason  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("记录形态与版本 %s 不匹配：%s", e.Version, e.Reason)
}

// VersionError 表示遇到未知的 schema 版本。
type VersionError struct {
	Version string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("未知的 schema 版本：%q", e.Version)
}

// Build 使用当前版本构建最终记录。
func Build(meta domain.GameMeta, cls domain.Classification, id domain.AppID, baseURL string, html []byte, scrapedAt time.Time) (domain.GameRecord, error) {
	return BuildVersion(domain.CurrentVersion, meta, cls, id, baseURL, html, scrapedAt)
}

// BuildVersion 以指定版本构建最终记录。
//
// 只检查结构性前提（版本已知、形态匹配、分类合法、AppID 为正），不重新判定分类。
func BuildVersion(version string, meta domain.GameMeta, cls domain.Classification, id domain.AppID, baseURL string, html []byte, scrapedAt time.Time) (domain.GameRecord, error) {
	if !domain.KnownVersion(version) {
		return domain.GameRecord{}, &VersionError{Version: version}
	}
	if id <= 0 {
		return domain.GameRecord{}, fmt.Errorf("app_id 必须为正整数：%d", id)
	}
	if !cls.Valid() {
		return domain.GameRecord{}, fmt.Errorf("未知的分类：%q", string(cls))
	}
	if err := checkShape(version, meta); err != nil {
		return domain.GameRecord{}, err
	}
	if baseURL == "" {
		baseURL = domain.DefaultBaseURL
	}

	return domain.GameRecord{
		Version:        version,
		AppID:          id,
		URL:            domain.StoreURL(baseURL, id),
		GameMeta:       normalize(meta),
		ScrapedAt:      Seconds(scrapedAt),
		Classification: cls,
		HTML:           string(html),
	}, nil
}

// Seconds 把时间转换为 scraped_at 使用的浮点秒。
func Seconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func checkShape(version string, m domain.GameMeta) error {
	structured := m.SystemRequirements.IsStructured()
	switch {
	case version == domain.Version3 && !structured:
		return &ShapeError{Version: version, Reason: "system_requirements 应为按平台的映射形态"}
	case version != domain.Version3 && structured:
		return &ShapeError{Version: version, Reason: "system_requirements 应为列表形态"}
	case !domain.HasReviews(version) && (m.ReviewCount.Present() || m.ReviewScore.Present()):
		return &ShapeError{Version: version, Reason: "该版本不携带 review_count/review_score"}
	}
	return nil
}

// normalize 把 nil 切片统一为空切片，保证 JSON 输出为 [] 而不是 null。
func normalize(m domain.GameMeta) domain.GameMeta {
	m.Developer = nonNil(m.Developer)
	m.Publisher = nonNil(m.Publisher)
	m.Tags = nonNil(m.Tags)
	if s := m.SystemRequirements.Structured; s != nil {
		cp := *s
		if cp.Platforms == nil {
			cp.Platforms = map[string]domain.PlatformRequirements{}
		}
		if cp.RawData == nil {
			cp.RawData = []domain.RequirementBlob{}
		}
		m.SystemRequirements.Structured = &cp
	} else if m.SystemRequirements.Blobs == nil {
		m.SystemRequirements.Blobs = []domain.RequirementBlob{}
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
