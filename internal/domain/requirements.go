package domain

// RequirementBlob 是 1.0/2.0 版本的系统需求形态：每个平台一段自由文本。
type RequirementBlob struct {
	OS           string `json:"os"`
	Requirements string `json:"requirements"`
}

// RequirementSet 是规范化后的需求键值（os/processor/memory/graphics/...）。
type RequirementSet map[string]string

// PlatformRequirements 是 3.0 版本单个平台的结构化需求。
type PlatformRequirements struct {
	Minimum     RequirementSet `json:"minimum"`
	Recommended RequirementSet `json:"recommended"`
}

// Empty 报告该平台是否没有解析出任何字段。
func (p PlatformRequirements) Empty() bool {
	return len(p.Minimum) == 0 && len(p.Recommended) == 0
}

// StructuredRequirements 是 3.0 版本的系统需求形态。
//
// Platforms 的 key 是规范化平台名（windows/mac/linux，未知平台保持小写原名）；
// RawData 保留同一页面的列表形态，便于下游在结构化解析不理想时回退。
type StructuredRequirements struct {
	Platforms map[string]PlatformRequirements
	RawData   []RequirementBlob
}

// SystemRequirements 是按 schema 版本区分的 tagged union：
// - 1.0/2.0：Blobs（列表形态）
// - 3.0：Structured（映射形态）
//
// 二者只应有一个被使用；由 Extractor 的版本变体决定。
type SystemRequirements struct {
	Blobs      []RequirementBlob
	Structured *StructuredRequirements
}

// IsStructured 报告是否为 3.0 的映射形态。
func (r SystemRequirements) IsStructured() bool { return r.Structured != nil }

// Empty 报告是否没有任何平台的需求信息。
func (r SystemRequirements) Empty() bool {
	if r.Structured != nil {
		for _, p := range r.Structured.Platforms {
			if !p.Empty() {
				return false
			}
		}
		return len(r.Structured.RawData) == 0
	}
	return len(r.Blobs) == 0
}
