package domain

// GameMeta 是 Extractor 从商品页解析得到的中间记录。
//
// 约束：
// - 可选字段缺失用 None 表达，不是错误；Validator 决定记录是否可用
// - Developer/Publisher/Tags 保持页面顺序；缺失时为空切片（不是 nil）
// - ReviewCount/ReviewScore 只由 2.0 及以上版本的 Extractor 填充
type GameMeta struct {
	Title         Opt[string]
	Price         Opt[string] // 原样保存（免费/折扣/本地货币），不做数值解析
	ReleaseDate   Opt[string]
	Developer     []string
	Publisher     []string
	Tags          []string
	Description   Opt[string]
	AboutThisGame Opt[string]
	MatureContent Opt[string]

	SystemRequirements SystemRequirements

	ReviewCount Opt[int]
	ReviewScore Opt[float64] // 0-100
}
