// Package ids 把命令行参数解析为去重后的 AppID 列表。
//
// 支持的写法：单个 id（"730"）、闭区间（"10-20"）、逗号分隔（"730,440"），可任意组合。
// 输出保持首次出现的顺序，重复 id 只保留一次。
package ids

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// MaxRange 是单个区间允许展开的最大数量，防止误输入（例如 "1-999999999"）。
const MaxRange = 1_000_000

var rangeRE = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)$`)

// ParseError 表示某个参数无法解析。
type ParseError struct {
	// Kind: "invalid"、"reversed" 或 "too_large"
	Kind  string
	Input string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case "reversed":
		return fmt.Sprintf("区间起点大于终点：%q", e.Input)
	case "too_large":
		return fmt.Sprintf("区间过大（最多 %d 个）：%q", MaxRange, e.Input)
	default:
		return fmt.Sprintf("不是合法的 app_id 或区间：%q", e.Input)
	}
}

// Parse 解析参数列表。
func Parse(args []string) ([]domain.AppID, error) {
	seen := map[domain.AppID]struct{}{}
	out := make([]domain.AppID, 0, len(args))
	add := func(id domain.AppID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, arg := range args {
		for _, tok := range strings.Split(arg, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if err := parseToken(tok, add); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func parseToken(tok string, add func(domain.AppID)) error {
	if m := rangeRE.FindStringSubmatch(tok); m != nil {
		lo, ok1 := domain.ParseAppID(m[1])
		hi, ok2 := domain.ParseAppID(m[2])
		if !ok1 || !ok2 {
			return &ParseError{Kind: "invalid", Input: tok}
		}
		if lo > hi {
			return &ParseError{Kind: "reversed", Input: tok}
		}
		if int(hi-lo)+1 > MaxRange {
			return &ParseError{Kind: "too_large", Input: tok}
		}
		for id := lo; id <= hi; id++ {
			add(id)
		}
		return nil
	}
	id, ok := domain.ParseAppID(tok)
	if !ok {
		return &ParseError{Kind: "invalid", Input: tok}
	}
	add(id)
	return nil
}

// ParseReader 从文本读取参数：每行一个或多个（空白/逗号分隔），'#' 之后为注释。
func ParseReader(r io.Reader) ([]domain.AppID, error) {
	var args []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		args = append(args, strings.Fields(normalizeRangeSpaces(line))...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return Parse(args)
}

// normalizeRangeSpaces 把 "10 - 20" 收紧为 "10-20"，避免被 Fields 拆开。
func normalizeRangeSpaces(s string) string {
	return rangeSpaceRE.ReplaceAllString(s, "$1-$2")
}

var rangeSpaceRE = regexp.MustCompile(`(\d)\s+-\s+(\d)`)

// One 解析单个 id（show 等子命令使用）。
func One(s string) (domain.AppID, error) {
	id, ok := domain.ParseAppID(s)
	if !ok {
		return 0, &ParseError{Kind: "invalid", Input: s}
	}
	return id, nil
}
