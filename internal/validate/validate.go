// Package validate 判定 GameMeta 是否为可用记录（valid）或垃圾记录（trash）。
//
// 所有判定都是纯函数：相同输入 => 相同分类。
// “存在但只有空白”的文本与缺失等价。
package validate

import (
	"fmt"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// Mode 是配置里的 validation 取值。
type Mode string

const (
	ModeDefault Mode = "default"
	ModeStrict  Mode = "strict"
)

// Func 是分类规则。
type Func func(domain.GameMeta) domain.Classification

// Classify 是默认规则：
// title 非空，且 description/about_this_game 至少一个非空，且 release_date 非空。
// 其余字段缺失不会导致 trash（例如没有开发商的免费游戏仍然可用）。
func Classify(m domain.GameMeta) domain.Classification {
	if domain.Blank(m.Title) || domain.Blank(m.ReleaseDate) {
		return domain.ClassTrash
	}
	if domain.Blank(m.Description) && domain.Blank(m.AboutThisGame) {
		return domain.ClassTrash
	}
	return domain.ClassValid
}

// Strict 要求 title/price/release_date/description/about_this_game/tags/mature_content/system_requirements
// 全部存在且非空。只在显式配置 validation: strict 时使用。
func Strict(m domain.GameMeta) domain.Classification {
	for _, o := range []domain.Opt[string]{
		m.Title, m.Price, m.ReleaseDate, m.Description, m.AboutThisGame, m.MatureContent,
	} {
		if domain.Blank(o) {
			return domain.ClassTrash
		}
	}
	if len(m.Tags) == 0 || m.SystemRequirements.Empty() {
		return domain.ClassTrash
	}
	return domain.ClassValid
}

// ForMode 返回配置对应的规则；空字符串按默认规则处理。
func ForMode(mode Mode) (Func, error) {
	switch mode {
	case "", ModeDefault:
		return Classify, nil
	case ModeStrict:
		return Strict, nil
	default:
		return nil, fmt.Errorf("未知的 validation 模式：%q（可选 default|strict）", string(mode))
	}
}
