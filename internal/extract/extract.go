// Package extract 把商品页 HTML 解析为 domain.GameMeta。
//
// 约束：
// - 纯函数：不做任何 I/O；相同输入 => 相同输出
// - 可选字段缺失不是错误（保持 None / 空切片），可用性由 validate 判定
// - 每个 schema 版本一个变体；新记录使用 domain.CurrentVersion
package extract

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// variant 是某个 schema 版本的解析实现。
type variant func(doc *goquery.Document, html []byte) domain.GameMeta

var variants = map[string]variant{
	domain.Version1: extractV1,
	domain.Version2: extractV2,
	domain.Version3: extractV3,
}

// UnknownVersionError 表示请求了未注册的 schema 版本。
type UnknownVersionError struct {
	Version string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("未知的 schema 版本：%q", e.Version)
}

// Current 使用当前 schema 版本解析。
func Current(html []byte) (domain.GameMeta, error) {
	return Extract(domain.CurrentVersion, html)
}

// Extract 按指定 schema 版本解析 HTML。
//
// 错误只有两种：版本未知，或 HTML 无法被解析为文档（goquery 对残缺 HTML 很宽容，几乎不会发生）。
func Extract(version string, html []byte) (domain.GameMeta, error) {
	fn, ok := variants[version]
	if !ok {
		return domain.GameMeta{}, &UnknownVersionError{Version: version}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.GameMeta{}, err
	}
	return fn(doc, html), nil
}

// extractV1：基础字段 + 列表形态的系统需求。
func extractV1(doc *goquery.Document, _ []byte) domain.GameMeta {
	return domain.GameMeta{
		Title:              title(doc),
		Price:              price(doc),
		ReleaseDate:        releaseDate(doc),
		Developer:          developers(doc),
		Publisher:          publishers(doc),
		Tags:               tags(doc),
		Description:        description(doc),
		AboutThisGame:      aboutThisGame(doc),
		MatureContent:      matureContent(doc),
		SystemRequirements: domain.SystemRequirements{Blobs: requirementBlobs(doc)},
	}
}

// extractV2：在 v1 基础上增加评测数据。
func extractV2(doc *goquery.Document, html []byte) domain.GameMeta {
	m := extractV1(doc, html)
	m.ReviewCount = reviewCount(doc)
	m.ReviewScore = reviewScore(html)
	return m
}

// extractV3：系统需求改为按平台的结构化映射（列表形态保留在 raw_data）。
func extractV3(doc *goquery.Document, html []byte) domain.GameMeta {
	m := extractV2(doc, html)
	raw := m.SystemRequirements.Blobs
	if raw == nil {
		raw = []domain.RequirementBlob{}
	}
	m.SystemRequirements = domain.SystemRequirements{
		Structured: &domain.StructuredRequirements{
			Platforms: structuredRequirements(doc),
			RawData:   raw,
		},
	}
	return m
}
