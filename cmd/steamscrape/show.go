package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/ids"
	"github.com/John-Robertt/steamscrape/internal/record"
	"github.com/John-Robertt/steamscrape/internal/store"
)

func (a *app) showCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "显示一条已落盘的记录",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{fmt.Errorf("show 需要且只需要一个 app_id，实际 %d 个", len(args))}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ids.One(args[0])
			if err != nil {
				return usageError{err}
			}
			eff, err := a.loadConfig(nil)
			if err != nil {
				return err
			}
			rec, err := a.openStore(eff, store.WithReadOnly(true)).Read(id)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("app_id %d 没有记录", id)
			}
			if err != nil {
				return err
			}
			if asJSON {
				b, err := record.Encode(rec)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(b)
				return err
			}
			renderRecord(a.stdout, rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "输出落盘格式的 JSON（不含表格）")
	return cmd
}

// renderRecord 按记录自身的 version 分支展示：2.0 起有评测数据，3.0 的系统需求是结构化的。
func renderRecord(w io.Writer, rec domain.GameRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"字段", "值"})
	t.AppendRows([]table.Row{
		{"app_id", rec.AppID},
		{"version", rec.Version},
		{"classification", rec.Classification},
		{"url", rec.URL},
		{"title", optText(rec.Title)},
		{"price", optText(rec.Price)},
		{"release_date", optText(rec.ReleaseDate)},
		{"developer", listText(rec.Developer)},
		{"publisher", listText(rec.Publisher)},
		{"tags", listText(rec.Tags)},
		{"description", clip(optText(rec.Description), 100)},
		{"about_this_game", clip(optText(rec.AboutThisGame), 100)},
		{"mature_content", clip(optText(rec.MatureContent), 100)},
	})
	if domain.HasReviews(rec.Version) {
		count := "-"
		if n, ok := rec.ReviewCount.Get(); ok {
			count = strconv.Itoa(n)
		}
		score := "-"
		if f, ok := rec.ReviewScore.Get(); ok {
			score = strconv.FormatFloat(f, 'f', -1, 64) + "%"
		}
		t.AppendRow(table.Row{"review_count", count})
		t.AppendRow(table.Row{"review_score", score})
	}
	t.AppendRow(table.Row{"scraped_at", strconv.FormatFloat(rec.ScrapedAt, 'f', 3, 64)})
	t.AppendRow(table.Row{"html", fmt.Sprintf("%d bytes", len(rec.HTML))})
	t.Render()

	renderRequirements(w, rec.SystemRequirements)
}

func renderRequirements(w io.Writer, sr domain.SystemRequirements) {
	if sr.Empty() {
		fmt.Fprintln(w, "system_requirements: -")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	if !sr.IsStructured() {
		t.AppendHeader(table.Row{"os", "requirements"})
		for _, b := range sr.Blobs {
			t.AppendRow(table.Row{b.OS, clip(b.Requirements, 120)})
		}
		t.Render()
		return
	}

	t.AppendHeader(table.Row{"platform", "section", "field", "value"})
	platforms := make([]string, 0, len(sr.Structured.Platforms))
	for p := range sr.Structured.Platforms {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		pr := sr.Structured.Platforms[p]
		for _, sec := range []struct {
			name string
			set  domain.RequirementSet
		}{{"minimum", pr.Minimum}, {"recommended", pr.Recommended}} {
			keys := make([]string, 0, len(sec.set))
			for k := range sec.set {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				t.AppendRow(table.Row{p, sec.name, k, clip(sec.set[k], 80)})
			}
		}
	}
	t.Render()
}

func optText(o domain.Opt[string]) string {
	v, ok := o.Get()
	if !ok {
		return "-"
	}
	if strings.TrimSpace(v) == "" {
		return `""`
	}
	return v
}

func listText(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ", ")
}

// clip 按字符截断，避免表格被长文本撑爆。
func clip(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
