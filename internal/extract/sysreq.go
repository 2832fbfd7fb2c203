package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

const (
	sectionMinimum     = "minimum"
	sectionRecommended = "recommended"

	// 无法解析成键值时，最多保留多少字符到 additional_notes。
	maxUnparsedNotes = 200
)

var fixedPlatforms = []string{"windows", "mac", "linux"}

var (
	reviewPercentRE = regexp.MustCompile(`(?is)(\d+)%\s+of\s+the.*?reviews.*?are\s+positive`)

	// 文本回退模式下用已知标签定位字段边界（RE2 没有 lookahead，不能按“下一个 X:”切分）。
	knownLabelRE = regexp.MustCompile(`(?i)\b(os\s*\*?|operating\s+system|processor|cpu|memory|ram|graphics|gpu|video\s+card|directx|dx|network|internet|storage|hard\s+drive|hard\s+disk\s+space|disk\s+space|available\s+space|sound\s+card|sound|audio|additional\s+notes?|notes?|vr\s+support)\s*:`)

	minimumRE     = regexp.MustCompile(`(?i)minimum`)
	recommendedRE = regexp.MustCompile(`(?i)recommended`)
	osHintRE      = regexp.MustCompile(`(?i)windows?\s+\d+|macos?\s+[\d.]+|linux|ubuntu`)
	requiresRE    = regexp.MustCompile(`(?i)^requires?\s+`)
	nonWordRE     = regexp.MustCompile(`[^\w\s]`)
	whitespaceRE  = regexp.MustCompile(`\s+`)
	fieldMappings = []struct {
		re  *regexp.Regexp
		key string
	}{
		{regexp.MustCompile(`\b(os\b\s*\*?|operating\s+system)`), "os"},
		{regexp.MustCompile(`\b(processor|cpu)\b`), "processor"},
		{regexp.MustCompile(`\b(memory|ram)\b`), "memory"},
		{regexp.MustCompile(`\b(graphics|gpu|video\s+card)\b`), "graphics"},
		{regexp.MustCompile(`\b(directx|dx)\b`), "directx"},
		{regexp.MustCompile(`\b(network|internet)\b`), "network"},
		{regexp.MustCompile(`\b(storage|hard\s+drive|hard\s+disk\s+space|disk\s+space|available\s+space)\b`), "storage"},
		{regexp.MustCompile(`\b(sound\s+card|sound|audio)\b`), "sound_card"},
		{regexp.MustCompile(`\b(additional\s+notes?|notes?|other)\b`), "additional_notes"},
	}
)

// structuredRequirements 解析 3.0 的按平台结构化需求。
//
// 每个 div.sysreq_content[data-os] 是一个平台；找不到时回退 div.sys_req 并视为 windows。
// windows/mac/linux 三个键总是存在，未解析出字段的平台保留空的 minimum/recommended。
func structuredRequirements(doc *goquery.Document) map[string]domain.PlatformRequirements {
	out := make(map[string]domain.PlatformRequirements, len(fixedPlatforms))
	for _, k := range fixedPlatforms {
		out[k] = domain.PlatformRequirements{
			Minimum:     domain.RequirementSet{},
			Recommended: domain.RequirementSet{},
		}
	}

	parsed := false
	doc.Find("div.sysreq_content").Each(func(_ int, s *goquery.Selection) {
		osKey, ok := s.Attr("data-os")
		if !ok || strings.TrimSpace(osKey) == "" {
			return
		}
		elem := s.Find("div.game_area_sys_req_full").First()
		if elem.Length() == 0 {
			elem = s
		}
		if p := parsePlatform(elem); !p.Empty() {
			out[normalizePlatform(osKey)] = p
			parsed = true
		}
	})

	if !parsed {
		if s := doc.Find("div.sys_req").First(); s.Length() > 0 {
			if p := parsePlatform(s); !p.Empty() {
				out["windows"] = p
			}
		}
	}
	return out
}

func normalizePlatform(osKey string) string {
	k := strings.ToLower(strings.TrimSpace(osKey))
	switch {
	case strings.Contains(k, "win"):
		return "windows"
	case strings.Contains(k, "mac"):
		return "mac"
	case strings.Contains(k, "linux"), strings.Contains(k, "steamos"):
		return "linux"
	default:
		return k
	}
}

// parsePlatform 先按 <strong> 结构解析；结构不可用时回退到纯文本解析。
func parsePlatform(elem *goquery.Selection) domain.PlatformRequirements {
	p := domain.PlatformRequirements{
		Minimum:     domain.RequirementSet{},
		Recommended: domain.RequirementSet{},
	}

	sections := parseStrongStructure(elem)
	for k, v := range sections[sectionMinimum] {
		p.Minimum[k] = v
	}
	for k, v := range sections[sectionRecommended] {
		p.Recommended[k] = v
	}
	if !p.Empty() {
		return p
	}

	text := blockText(elem)
	if text == "" {
		return p
	}
	mi, rec, found := splitSections(text)
	if found {
		p.Minimum = parseSectionText(mi)
		p.Recommended = parseSectionText(rec)
	}
	if p.Empty() {
		p.Minimum = parseSectionText(text)
	}
	return p
}

// parseStrongStructure 解析形如
//
//	<strong>MINIMUM:</strong><ul><li><strong>OS:</strong> Windows 10</li>...</ul>
//
// 的结构。没有 MINIMUM/RECOMMENDED 标题时，所有字段归入 minimum。
func parseStrongStructure(elem *goquery.Selection) map[string]domain.RequirementSet {
	sections := map[string]domain.RequirementSet{
		sectionMinimum:     {},
		sectionRecommended: {},
	}

	strongs := elem.Find("strong")
	current := ""
	hasHeaders := false
	strongs.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if sectionName(s.Text()) != "" {
			hasHeaders = true
			return false
		}
		return true
	})
	if !hasHeaders {
		current = sectionMinimum
	}

	strongs.Each(func(_ int, s *goquery.Selection) {
		raw := s.Text()
		if name := sectionName(raw); name != "" {
			current = name
			return
		}
		if current == "" || !strings.Contains(raw, ":") {
			return
		}
		li := s.Closest("li")
		if li.Length() == 0 {
			return
		}
		value := cleanValue(textExcept(li, s))
		if value == "" {
			return
		}
		field := strings.TrimSuffix(strings.TrimSpace(raw), ":")
		if key := mapFieldName(field); key != "" {
			sections[current][key] = value
		}
	})
	return sections
}

func sectionName(s string) string {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ":")
	switch s {
	case sectionMinimum, sectionRecommended:
		return s
	default:
		return ""
	}
}

// textExcept 拼接 li 的子节点文本，跳过字段名本身。
func textExcept(li, skip *goquery.Selection) string {
	var b strings.Builder
	li.Contents().Each(func(_ int, c *goquery.Selection) {
		if len(c.Nodes) == 0 || len(skip.Nodes) == 0 || c.Nodes[0] == skip.Nodes[0] {
			return
		}
		writeText(&b, c)
	})
	return b.String()
}

// splitSections 把整段文本按 minimum/recommended 关键字切开。
//
// 关键字直接在 text 上匹配：大小写转换可能改变 UTF-8 字节长度，不能用转换后的下标切原文。
func splitSections(text string) (minimum, recommended string, found bool) {
	mi := minimumRE.FindStringIndex(text)
	ri := recommendedRE.FindStringIndex(text)
	if mi == nil && ri == nil {
		return "", "", false
	}

	cut := func(loc []int, end int) string {
		s := loc[1]
		if s < len(text) && text[s] == ':' {
			s++
		}
		if end < s {
			end = len(text)
		}
		return strings.TrimSpace(text[s:end])
	}

	if mi != nil {
		end := len(text)
		if ri != nil && ri[0] > mi[0] {
			end = ri[0]
		}
		minimum = cut(mi, end)
	}
	if ri != nil {
		end := len(text)
		if mi != nil && mi[0] > ri[0] {
			end = mi[0]
		}
		recommended = cut(ri, end)
	}
	return minimum, recommended, minimum != "" || recommended != ""
}

// parseSectionText 把一段需求文本解析为键值；完全无法解析时把原文（截断）放进 additional_notes。
func parseSectionText(text string) domain.RequirementSet {
	out := domain.RequirementSet{}
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}

	locs := knownLabelRE.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		key := mapFieldName(text[loc[2]:loc[3]])
		value := cleanValue(text[loc[1]:end])
		if key != "" && value != "" {
			out[key] = value
		}
	}
	if len(out) > 0 {
		return out
	}

	if m := osHintRE.FindString(text); m != "" {
		out["os"] = strings.TrimSpace(m)
	}
	out["additional_notes"] = truncateRunes(text, maxUnparsedNotes)
	return out
}

// mapFieldName 把页面上的字段名映射为规范化 key；未知字段转 snake_case。
func mapFieldName(field string) string {
	low := strings.ToLower(strings.TrimSpace(field))
	for _, m := range fieldMappings {
		if m.re.MatchString(low) {
			return m.key
		}
	}
	safe := nonWordRE.ReplaceAllString(low, "")
	safe = whitespaceRE.ReplaceAllString(strings.TrimSpace(safe), "_")
	return safe
}

func cleanValue(v string) string {
	v = normSpace(v)
	return strings.TrimSpace(requiresRE.ReplaceAllString(v, ""))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
