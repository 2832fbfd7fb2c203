package main

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/store"
)

type statsKey struct {
	class   domain.Classification
	version string
}

// collectStats 遍历两个分区，按（分类, 版本）计数；无法解码的记录单独计数。
func collectStats(st *store.Store) (map[statsKey]int, int, error) {
	entries, err := st.List()
	if err != nil {
		return nil, 0, err
	}
	counts := map[statsKey]int{}
	unreadable := 0
	for _, e := range entries {
		rec, err := st.Read(e.AppID)
		if err != nil {
			unreadable++
			continue
		}
		counts[statsKey{class: rec.Classification, version: rec.Version}]++
	}
	return counts, unreadable, nil
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "统计 valid/trash 两个分区的记录数（按 schema 版本）",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageError{fmt.Errorf("stats 不接受参数：%v", args)}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := a.loadConfig(nil)
			if err != nil {
				return err
			}
			counts, unreadable, err := collectStats(a.openStore(eff, store.WithReadOnly(true)))
			if err != nil {
				return err
			}

			keys := make([]statsKey, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				if keys[i].class != keys[j].class {
					return keys[i].class > keys[j].class // valid 在前
				}
				return keys[i].version < keys[j].version
			})

			t := table.NewWriter()
			t.SetOutputMirror(a.stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"classification", "version", "records"})
			total := 0
			for _, k := range keys {
				t.AppendRow(table.Row{k.class, k.version, counts[k]})
				total += counts[k]
			}
			if unreadable > 0 {
				t.AppendRow(table.Row{"unreadable", "-", unreadable})
				total += unreadable
			}
			t.AppendFooter(table.Row{"", "total", total})
			t.Render()
			return nil
		},
	}
}
