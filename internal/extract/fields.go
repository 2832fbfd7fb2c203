package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/steamscrape/internal/domain"
)

// firstText 返回第一个匹配元素的规范化文本；未找到元素时为 None。
func firstText(doc *goquery.Document, selectors ...string) domain.Opt[string] {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		return domain.Some(normSpace(s.Text()))
	}
	return domain.None[string]()
}

func title(doc *goquery.Document) domain.Opt[string] {
	return firstText(doc, "div.apphub_AppName", "#appHubAppName")
}

// price 优先原价区块，其次折扣后价格；文本原样保存（"Free to Play"、"¥ 98"、"$19.99" 都合法）。
func price(doc *goquery.Document) domain.Opt[string] {
	return firstText(doc, "div.game_purchase_price", "div.discount_final_price")
}

func releaseDate(doc *goquery.Document) domain.Opt[string] {
	return firstText(doc, "div.release_date div.date")
}

func description(doc *goquery.Document) domain.Opt[string] {
	return firstText(doc, "div.game_description_snippet")
}

func aboutThisGame(doc *goquery.Document) domain.Opt[string] {
	return firstText(doc, "div#game_area_description")
}

// matureContent 只有在描述区块存在且非空时才算存在（空壳 div 视为缺失）。
func matureContent(doc *goquery.Document) domain.Opt[string] {
	for _, sel := range []string{"div#game_area_content_descriptors", "div.content_descriptors"} {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if t := normSpace(s.Text()); t != "" {
			return domain.Some(t)
		}
	}
	return domain.None[string]()
}

// developers 取第一个 dev_row 的链接；缺失时回退 #developers_list。
func developers(doc *goquery.Document) []string {
	row := doc.Find("div.dev_row").First()
	if row.Length() > 0 {
		if out := linkTexts(row); len(out) > 0 {
			return out
		}
	}
	return linkTexts(doc.Find("#developers_list").First())
}

// publishers 先找详情区块里 "Publisher" 标签后的 grid_content；
// 缺失时回退到 subtitle 写着 Publisher 的 dev_row。
func publishers(doc *goquery.Document) []string {
	var out []string
	doc.Find("div.grid_label").EachWithBreak(func(_ int, label *goquery.Selection) bool {
		if !strings.Contains(label.Text(), "Publisher") {
			return true
		}
		content := label.NextAllFiltered("div.grid_content").First()
		if content.Length() == 0 {
			return true
		}
		out = linkTexts(content)
		return false
	})
	if len(out) > 0 {
		return out
	}

	doc.Find("div.dev_row").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if !strings.Contains(row.Find(".subtitle").First().Text(), "Publisher") {
			return true
		}
		out = linkTexts(row)
		return false
	})
	if out == nil {
		return []string{}
	}
	return out
}

func tags(doc *goquery.Document) []string {
	out := make([]string, 0, 20)
	doc.Find("a.app_tag").Each(func(_ int, s *goquery.Selection) {
		if t := normSpace(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// requirementBlobs 返回列表形态（1.0/2.0）的系统需求：每个带 data-os 的平台一段文本。
func requirementBlobs(doc *goquery.Document) []domain.RequirementBlob {
	out := make([]domain.RequirementBlob, 0, 3)
	doc.Find("div.sysreq_content").Each(func(_ int, s *goquery.Selection) {
		osKey, ok := s.Attr("data-os")
		osKey = strings.TrimSpace(osKey)
		if !ok || osKey == "" {
			return
		}
		// 只有最低配置时页面用 _full；同时有推荐配置时是左右两栏，此时取整个区块。
		full := s.Find("div.game_area_sys_req_full").First()
		if full.Length() == 0 {
			full = s
		}
		if t := blockText(full); t != "" {
			out = append(out, domain.RequirementBlob{OS: osKey, Requirements: t})
		}
	})
	return out
}

// reviewCount 读取 <meta itemprop="reviewCount" content="...">。
func reviewCount(doc *goquery.Document) domain.Opt[int] {
	v, ok := doc.Find(`meta[itemprop="reviewCount"]`).First().Attr("content")
	if !ok {
		return domain.None[int]()
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return domain.None[int]()
	}
	return domain.Some(n)
}

// reviewScore 从 "80% of the 1,234 user reviews for this game are positive" 这类文案提取百分比。
func reviewScore(html []byte) domain.Opt[float64] {
	m := reviewPercentRE.FindSubmatch(html)
	if len(m) < 2 {
		return domain.None[float64]()
	}
	f, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return domain.None[float64]()
	}
	return domain.Some(f)
}

func linkTexts(s *goquery.Selection) []string {
	out := make([]string, 0, 2)
	s.Find("a").Each(func(_ int, a *goquery.Selection) {
		if t := normSpace(a.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }

// blockTags 是文本上彼此分隔的元素；Selection.Text() 会把它们的文本直接粘连。
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "ul": true, "ol": true, "li": true,
	"table": true, "tr": true, "td": true, "th": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true,
}

// blockText 返回 s 的规范化文本，块级元素与 <br> 两侧视为空白。
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) { writeText(&b, c) })
	return normSpace(b.String())
}

func writeText(b *strings.Builder, c *goquery.Selection) {
	name := goquery.NodeName(c)
	switch {
	case name == "#text":
		b.WriteString(c.Text())
	case name == "#comment":
	case blockTags[name]:
		b.WriteByte(' ')
		c.Contents().Each(func(_ int, cc *goquery.Selection) { writeText(b, cc) })
		b.WriteByte(' ')
	default:
		c.Contents().Each(func(_ int, cc *goquery.Selection) { writeText(b, cc) })
	}
}
