package domain

// Schema 版本。持久化数据的读取方必须按 version 分支，不能假设固定形态。
const (
	Version1 = "1.0"
	Version2 = "2.0"
	Version3 = "3.0"

	// CurrentVersion 是新写入记录使用的版本。
	CurrentVersion = Version3
)

// KnownVersion 报告 v 是否为已知的 schema 版本。
func KnownVersion(v string) bool {
	switch v {
	case Version1, Version2, Version3:
		return true
	default:
		return false
	}
}

// HasReviews 报告该版本是否携带 review_count/review_score。
func HasReviews(v string) bool { return v == Version2 || v == Version3 }

// Classification 是记录的可用性分类，同时决定落盘分区。
type Classification string

const (
	ClassValid Classification = "valid"
	ClassTrash Classification = "trash"
)

func (c Classification) Valid() bool { return c == ClassValid || c == ClassTrash }

// GameRecord 是最终落盘的记录（GameMeta + 运行期信息）。
//
// 约束：
// - 每个 AppID 至多一条（跨 valid/trash 分区）
// - ScrapedAt 只在构建时写入一次（秒，浮点），重跑时整条跳过，不会更新
// - 记录创建后不可变；重抓需要先显式删除
type GameRecord struct {
	Version string
	AppID   AppID
	URL     string

	GameMeta

	ScrapedAt      float64
	Classification Classification
	HTML           string
}
