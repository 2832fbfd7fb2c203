package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// rawDataKey 是 3.0 结构化系统需求里保存列表形态的字段名。
const rawDataKey = "raw_data"

// 1.0 的线上结构。字段顺序即输出顺序。
type wireV1 struct {
	Version            string                `json:"version"`
	AppID              domain.AppID          `json:"app_id"`
	URL                string                `json:"url"`
	Title              domain.Opt[string]    `json:"title"`
	Price              domain.Opt[string]    `json:"price"`
	ReleaseDate        domain.Opt[string]    `json:"release_date"`
	Developer          []string              `json:"developer"`
	Publisher          []string              `json:"publisher"`
	Tags               []string              `json:"tags"`
	Description        domain.Opt[string]    `json:"description"`
	MatureContent      domain.Opt[string]    `json:"mature_content"`
	AboutThisGame      domain.Opt[string]    `json:"about_this_game"`
	SystemRequirements json.RawMessage       `json:"system_requirements"`
	ScrapedAt          float64               `json:"scraped_at"`
	Classification     domain.Classification `json:"classification"`
	HTML               string                `json:"html"`
}

// 2.0/3.0 的线上结构：两者只在 system_requirements 的形态上不同。
type wireV2 struct {
	Version            string                `json:"version"`
	AppID              domain.AppID          `json:"app_id"`
	URL                string                `json:"url"`
	Title              domain.Opt[string]    `json:"title"`
	Price              domain.Opt[string]    `json:"price"`
	ReleaseDate        domain.Opt[string]    `json:"release_date"`
	Developer          []string              `json:"developer"`
	Publisher          []string              `json:"publisher"`
	Tags               []string              `json:"tags"`
	Description        domain.Opt[string]    `json:"description"`
	MatureContent      domain.Opt[string]    `json:"mature_content"`
	AboutThisGame      domain.Opt[string]    `json:"about_this_game"`
	SystemRequirements json.RawMessage       `json:"system_requirements"`
	ReviewCount        domain.Opt[int]       `json:"review_count"`
	ReviewScore        domain.Opt[float64]   `json:"review_score"`
	ScrapedAt          float64               `json:"scraped_at"`
	Classification     domain.Classification `json:"classification"`
	HTML               string                `json:"html"`
}

// wireIn 是读取用的并集结构，兼容所有版本以及旧版 trash 骨架（status: "trash"）。
type wireIn struct {
	Version            string                `json:"version"`
	AppID              domain.AppID          `json:"app_id"`
	URL                string                `json:"url"`
	Title              domain.Opt[string]    `json:"title"`
	Price              domain.Opt[string]    `json:"price"`
	ReleaseDate        domain.Opt[string]    `json:"release_date"`
	Developer          []string              `json:"developer"`
	Publisher          []string              `json:"publisher"`
	Tags               []string              `json:"tags"`
	Description        domain.Opt[string]    `json:"description"`
	MatureContent      domain.Opt[string]    `json:"mature_content"`
	AboutThisGame      domain.Opt[string]    `json:"about_this_game"`
	SystemRequirements json.RawMessage       `json:"system_requirements"`
	ReviewCount        domain.Opt[int]       `json:"review_count"`
	ReviewScore        domain.Opt[float64]   `json:"review_score"`
	ScrapedAt          float64               `json:"scraped_at"`
	Classification     domain.Classification `json:"classification"`
	Status             string                `json:"status"`
	HTML               string                `json:"html"`
}

// Encode 按记录自身的 version 序列化（两空格缩进，不转义 HTML，末尾换行）。
//
// 相同记录 => 相同字节：结构体字段顺序固定，map 的 key 由 encoding/json 排序。
func Encode(rec domain.GameRecord) ([]byte, error) {
	if !domain.KnownVersion(rec.Version) {
		return nil, &VersionError{Version: rec.Version}
	}
	if err := checkShape(rec.Version, rec.GameMeta); err != nil {
		return nil, err
	}
	m := normalize(rec.GameMeta)

	sr, err := encodeRequirements(m.SystemRequirements)
	if err != nil {
		return nil, err
	}

	w := wireV2{
		Version:            rec.Version,
		AppID:              rec.AppID,
		URL:                rec.URL,
		Title:              m.Title,
		Price:              m.Price,
		ReleaseDate:        m.ReleaseDate,
		Developer:          m.Developer,
		Publisher:          m.Publisher,
		Tags:               m.Tags,
		Description:        m.Description,
		MatureContent:      m.MatureContent,
		AboutThisGame:      m.AboutThisGame,
		SystemRequirements: sr,
		ReviewCount:        m.ReviewCount,
		ReviewScore:        m.ReviewScore,
		ScrapedAt:          rec.ScrapedAt,
		Classification:     rec.Classification,
		HTML:               rec.HTML,
	}
	var v any = w
	if rec.Version == domain.Version1 {
		v = w.v1()
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w wireV2) v1() wireV1 {
	return wireV1{
		Version:            w.Version,
		AppID:              w.AppID,
		URL:                w.URL,
		Title:              w.Title,
		Price:              w.Price,
		ReleaseDate:        w.ReleaseDate,
		Developer:          w.Developer,
		Publisher:          w.Publisher,
		Tags:               w.Tags,
		Description:        w.Description,
		MatureContent:      w.MatureContent,
		AboutThisGame:      w.AboutThisGame,
		SystemRequirements: w.SystemRequirements,
		ScrapedAt:          w.ScrapedAt,
		Classification:     w.Classification,
		HTML:               w.HTML,
	}
}

func encodeRequirements(r domain.SystemRequirements) (json.RawMessage, error) {
	if !r.IsStructured() {
		return marshalNoEscape(r.Blobs)
	}
	obj := make(map[string]any, len(r.Structured.Platforms)+1)
	for name, p := range r.Structured.Platforms {
		if p.Minimum == nil {
			p.Minimum = domain.RequirementSet{}
		}
		if p.Recommended == nil {
			p.Recommended = domain.RequirementSet{}
		}
		obj[name] = p
	}
	obj[rawDataKey] = r.Structured.RawData
	return marshalNoEscape(obj)
}

func marshalNoEscape(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Decode 解析一条持久化记录，按 version 决定 system_requirements 的形态。
//
// 兼容规则：
// - 缺少 classification 时：status == "trash" 视为 trash，否则视为 valid
// - 1.0 记录即使文件里带了 review 字段也忽略
func Decode(b []byte) (domain.GameRecord, error) {
	var in wireIn
	if err := json.Unmarshal(b, &in); err != nil {
		return domain.GameRecord{}, fmt.Errorf("解析记录失败：%w", err)
	}
	if !domain.KnownVersion(in.Version) {
		return domain.GameRecord{}, &VersionError{Version: in.Version}
	}

	cls := in.Classification
	switch {
	case cls == "" && in.Status == string(domain.ClassTrash):
		cls = domain.ClassTrash
	case cls == "":
		cls = domain.ClassValid
	case !cls.Valid():
		return domain.GameRecord{}, fmt.Errorf("未知的分类：%q", string(cls))
	}

	sr, err := decodeRequirements(in.Version, in.SystemRequirements)
	if err != nil {
		return domain.GameRecord{}, err
	}

	meta := domain.GameMeta{
		Title:              in.Title,
		Price:              in.Price,
		ReleaseDate:        in.ReleaseDate,
		Developer:          in.Developer,
		Publisher:          in.Publisher,
		Tags:               in.Tags,
		Description:        in.Description,
		AboutThisGame:      in.AboutThisGame,
		MatureContent:      in.MatureContent,
		SystemRequirements: sr,
	}
	if domain.HasReviews(in.Version) {
		meta.ReviewCount = in.ReviewCount
		meta.ReviewScore = in.ReviewScore
	}

	return domain.GameRecord{
		Version:        in.Version,
		AppID:          in.AppID,
		URL:            in.URL,
		GameMeta:       normalize(meta),
		ScrapedAt:      in.ScrapedAt,
		Classification: cls,
		HTML:           in.HTML,
	}, nil
}

func decodeRequirements(version string, raw json.RawMessage) (domain.SystemRequirements, error) {
	absent := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))

	if version != domain.Version3 {
		var blobs []domain.RequirementBlob
		if !absent {
			if err := json.Unmarshal(raw, &blobs); err != nil {
				return domain.SystemRequirements{}, fmt.Errorf("system_requirements（%s）应为列表：%w", version, err)
			}
		}
		return domain.SystemRequirements{Blobs: blobs}, nil
	}

	out := &domain.StructuredRequirements{Platforms: map[string]domain.PlatformRequirements{}}
	if absent {
		return domain.SystemRequirements{Structured: out}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.SystemRequirements{}, fmt.Errorf("system_requirements（%s）应为映射：%w", version, err)
	}
	for k, v := range obj {
		if k == rawDataKey {
			if err := json.Unmarshal(v, &out.RawData); err != nil {
				return domain.SystemRequirements{}, fmt.Errorf("解析 raw_data 失败：%w", err)
			}
			continue
		}
		var p domain.PlatformRequirements
		if err := json.Unmarshal(v, &p); err != nil {
			return domain.SystemRequirements{}, fmt.Errorf("解析平台 %q 失败：%w", k, err)
		}
		if p.Minimum == nil {
			p.Minimum = domain.RequirementSet{}
		}
		if p.Recommended == nil {
			p.Recommended = domain.RequirementSet{}
		}
		out.Platforms[k] = p
	}
	return domain.SystemRequirements{Structured: out}, nil
}
