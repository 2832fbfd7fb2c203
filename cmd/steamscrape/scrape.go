package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/steamscrape/internal/app/run"
	"github.com/John-Robertt/steamscrape/internal/config"
	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/fetch"
	"github.com/John-Robertt/steamscrape/internal/ids"
	"github.com/John-Robertt/steamscrape/internal/infra/httpx"
	"github.com/John-Robertt/steamscrape/internal/infra/logx"
	"github.com/John-Robertt/steamscrape/internal/store"
	"github.com/John-Robertt/steamscrape/internal/validate"
)

type scrapeFlags struct {
	dryRun      bool
	concurrency int
	dataDir     string
	idsFile     string
}

func (a *app) scrapeCmd() *cobra.Command {
	var f scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape [ids...]",
		Short: "抓取一批 app_id（支持 730、10,20、100-200）",
		Example: `  steamscrape scrape 730 570 440
  steamscrape scrape 10-20 --dry-run
  steamscrape scrape --ids-file ids.txt --concurrency 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.scrape(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.dryRun, "dry-run", false, "只抓取/解析/分类，不落盘；--dry-run=false 可覆盖配置中的 dry_run: true")
	fl.IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, fmt.Sprintf("并发 worker 数（1..%d）", config.MaxConcurrency))
	fl.StringVar(&f.dataDir, "data-dir", "", "数据根目录（默认 data）")
	fl.StringVar(&f.idsFile, "ids-file", "", `从文件读取 app_id，每行一个（"-" 表示 stdin，# 开头为注释）`)
	return cmd
}

func (a *app) scrape(cmd *cobra.Command, args []string, f scrapeFlags) error {
	list, err := a.collectIDs(args, f.idsFile)
	if err != nil {
		return usageError{err}
	}
	if len(list) == 0 {
		return usageError{errors.New("至少需要一个 app_id（参数或 --ids-file）")}
	}

	cli := config.CLIArgs{
		DataDir:        f.dataDir,
		DataDirSet:     cmd.Flags().Changed("data-dir"),
		Concurrency:    f.concurrency,
		ConcurrencySet: cmd.Flags().Changed("concurrency"),
		DryRun:         f.dryRun,
		DryRunSet:      cmd.Flags().Changed("dry-run"),
	}
	eff, err := a.loadConfig(&cli)
	if err != nil {
		cwd, _ := os.Getwd()
		emitReport(a.stdout, a.stderr, reportForConfigError(cwd, f.dryRun, err))
		return exitCode(1)
	}

	log, err := logx.New(eff.LogLevel, eff.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	classify, err := validate.ForMode(validate.Mode(eff.Validation))
	if err != nil {
		return err
	}

	retry := eff.RetryMax
	if retry == 0 {
		retry = -1
	}
	fetcher, err := fetch.New(fetch.Options{
		BaseURL:  eff.BaseURL,
		Language: eff.Language,
		Timeout:  eff.Timeout,
		Delay:    eff.Delay,
		HTTP:     httpx.Options{ProxyURL: eff.ProxyURL, RetryMax: retry},
	}, log.Named("fetch"))
	if err != nil {
		return err
	}

	st := a.openStore(eff, store.WithLogger(log.Named("store")), store.WithReadOnly(eff.DryRun))

	progressW, interactive := pickProgressWriter(a.stdout, a.stderr)
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW, eff)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rr := run.Execute(ctx, run.Deps{
		Fetcher:  fetcher,
		Store:    st,
		Classify: classify,
		Log:      log,
	}, run.Options{
		IDs:          list,
		DataDir:      eff.DataDir,
		BaseURL:      eff.BaseURL,
		Concurrency:  eff.Concurrency,
		SummaryEvery: eff.SummaryEvery,
		DryRun:       eff.DryRun,
	}, obs)

	// dry-run 不落盘，包括 report.json。
	if !eff.DryRun {
		if err := writeReportFile(eff.DataDir, rr); err != nil {
			log.Error("写入 report.json 失败", zap.Error(err))
			emitReport(a.stdout, a.stderr, rr)
			return exitCode(1)
		}
	}

	emitReport(a.stdout, a.stderr, rr)
	if interactive && !eff.DryRun {
		fmt.Fprintf(progressW, "report: %s\n", reportPath(eff.DataDir))
	}
	if rr.Summary.Failed > 0 {
		return exitCode(1)
	}
	return nil
}

// collectIDs 合并位置参数与 --ids-file，保持首次出现的顺序。
func (a *app) collectIDs(args []string, idsFile string) ([]domain.AppID, error) {
	out, err := ids.Parse(args)
	if err != nil {
		return nil, err
	}
	idsFile = strings.TrimSpace(idsFile)
	if idsFile == "" {
		return out, nil
	}

	var r io.Reader
	if idsFile == "-" {
		r = a.stdin
	} else {
		fh, err := os.Open(idsFile)
		if err != nil {
			return nil, fmt.Errorf("读取 --ids-file 失败：%w", err)
		}
		defer fh.Close()
		r = fh
	}
	more, err := ids.ParseReader(r)
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.AppID]struct{}, len(out)+len(more))
	for _, id := range out {
		seen[id] = struct{}{}
	}
	for _, id := range more {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
