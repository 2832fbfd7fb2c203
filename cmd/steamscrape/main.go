package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/steamscrape/internal/config"
	"github.com/John-Robertt/steamscrape/internal/domain"
	"github.com/John-Robertt/steamscrape/internal/infra/fsx"
	"github.com/John-Robertt/steamscrape/internal/store"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// exitCode 让子命令把非 0 退出码交给 execute，而不是在深处 os.Exit。
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

// usageError 表示参数错误（退出码 2）。
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configFile string
}

func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
		fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	fmt.Fprintf(stderr, "%v\n", err)
	return 1
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "steamscrape",
		Short:         "按 app_id 抓取商店商品页并落盘为 JSON 记录",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "配置文件路径（默认读取 cwd 下的 steamscrape.{yaml,json,toml}）")

	root.AddCommand(a.scrapeCmd(), a.showCmd(), a.statsCmd())
	return root
}

// loadConfig 读取生效配置；cli 为 nil 时只使用 --config。
func (a *app) loadConfig(cli *config.CLIArgs) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, fmt.Errorf("读取当前目录失败：%w", err)
	}
	args := config.CLIArgs{}
	if cli != nil {
		args = *cli
	}
	args.ConfigFile = a.configFile
	return config.LoadEffective(cwd, args)
}

func (a *app) openStore(eff config.EffectiveConfig, opts ...store.Option) *store.Store {
	return store.New(eff.ValidDir, eff.TrashDir, opts...)
}

// emitReport 遵守输出契约：stdout 非 TTY 时必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	line := fmt.Sprintf("完成：valid=%d trash=%d skipped=%d failed=%d requested=%d\n",
		rr.Summary.Valid, rr.Summary.Trash, rr.Summary.Skipped, rr.Summary.Failed, rr.Summary.Requested,
	)

	if isTTY(stdout) {
		fmt.Fprint(stdout, line)
		if rr.Summary.Failed > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StatusFailed {
					continue
				}
				key := "<config>"
				if it.AppID != 0 {
					key = it.AppID.String()
				}
				fmt.Fprintf(stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprint(stderr, line)
}

func reportForConfigError(cwd string, dryRun bool, err error) domain.RunReport {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	rr := domain.RunReport{
		DataDir:    cwd,
		DryRun:     dryRun,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StatusFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(dataDir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(dataDir, "report.json", b)
}

func reportPath(dataDir string) string { return filepath.Join(dataDir, "report.json") }

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// pickProgressWriter：进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	if isTTY(stderr) {
		return stderr, true
	}
	// 仅重定向 stderr 时 stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}
