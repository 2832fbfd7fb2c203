// Package config 读取并合并配置：CLI > 环境变量（含 .env）> 配置文件 > 内置默认值。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// FileName 是在 cwd 下自动发现的配置文件名（扩展名 yaml/json/toml 均可）。
	FileName = "steamscrape"
	// EnvPrefix 是环境变量前缀：STEAMSCRAPE_CONCURRENCY、STEAMSCRAPE_PROXY_URL ...
	EnvPrefix = "STEAMSCRAPE"

	DefaultDataDir      = "data"
	DefaultConcurrency  = 4
	MaxConcurrency      = 8
	DefaultDelay        = 100 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
	DefaultRetryMax     = 2
	MaxRetryMax         = 10
	DefaultBaseURL      = "https://store.steampowered.com"
	DefaultLanguage     = "english"
	DefaultSummaryEvery = 50
	DefaultValidation   = "default"
	DefaultLogLevel     = "info"
	DefaultLogEncoding  = "console"
)

// 配置键。嵌套键用 "."，对应环境变量用 "_"。
const (
	keyDataDir      = "data_dir"
	keyValidDir     = "valid_dir"
	keyTrashDir     = "trash_dir"
	keyConcurrency  = "concurrency"
	keyDelay        = "delay"
	keyTimeout      = "timeout"
	keyRetryMax     = "retry_max"
	keyBaseURL      = "base_url"
	keyLanguage     = "language"
	keyProxyURL     = "proxy.url"
	keySummaryEvery = "summary_every"
	keyValidation   = "validation"
	keyLogLevel     = "log.level"
	keyLogEncoding  = "log.encoding"
	keyDryRun       = "dry_run"
)

// CLIArgs 是 CLI 暴露的覆盖项，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --dry-run=false 必须能覆盖 dry_run: true。
type CLIArgs struct {
	ConfigFile string

	DataDir    string
	DataDirSet bool

	Concurrency    int
	ConcurrencySet bool

	DryRun    bool
	DryRunSet bool
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigFile 是实际读取的配置文件；未使用配置文件时为空。
	ConfigFile string

	DataDir  string // 绝对路径
	ValidDir string // 绝对路径
	TrashDir string // 绝对路径

	Concurrency int
	Delay       time.Duration
	Timeout     time.Duration
	RetryMax    int

	BaseURL  string
	Language string
	ProxyURL string

	SummaryEvery int
	Validation   string

	LogLevel    string
	LogEncoding string

	DryRun bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyDataDir, DefaultDataDir)
	v.SetDefault(keyValidDir, "")
	v.SetDefault(keyTrashDir, "")
	v.SetDefault(keyConcurrency, DefaultConcurrency)
	v.SetDefault(keyDelay, DefaultDelay)
	v.SetDefault(keyTimeout, DefaultTimeout)
	v.SetDefault(keyRetryMax, DefaultRetryMax)
	v.SetDefault(keyBaseURL, DefaultBaseURL)
	v.SetDefault(keyLanguage, DefaultLanguage)
	v.SetDefault(keyProxyURL, "")
	v.SetDefault(keySummaryEvery, DefaultSummaryEvery)
	v.SetDefault(keyValidation, DefaultValidation)
	v.SetDefault(keyLogLevel, DefaultLogLevel)
	v.SetDefault(keyLogEncoding, DefaultLogEncoding)
	v.SetDefault(keyDryRun, false)
}

// LoadEffective 发现并读取配置，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在，否则 config_not_found
// 2) 否则尝试 <cwd>/steamscrape.{yaml,yml,json,toml}（可选）
// 3) <cwd>/.env 中的 STEAMSCRAPE_* 视为环境变量，但不覆盖进程里已有的同名变量
//
// 覆盖优先级（固定）：CLI > 环境变量 > .env > 配置文件 > 默认值。
// 相对路径一律以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfgPath := ""
	if strings.TrimSpace(cli.ConfigFile) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigFile)
		if _, err := os.Stat(cfgPath); err != nil {
			if os.IsNotExist(err) {
				return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: err}
			}
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(cwdAbs)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, FileName), Err: err}
			}
		} else {
			cfgPath = v.ConfigFileUsed()
		}
	}

	envPath := filepath.Join(cwdAbs, ".env")
	if err := applyDotEnv(v, envPath); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: envPath, Err: err}
	}

	return merge(cwdAbs, v, cli, cfgPath)
}

// applyDotEnv 读取 .env（不存在则跳过），把 STEAMSCRAPE_* 中进程环境里没有的变量作为覆盖值写入 v。
// 不修改进程环境。
func applyDotEnv(v *viper.Viper, path string) error {
	m, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := EnvPrefix + "_"
	for _, key := range v.AllKeys() {
		envKey := prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		val, ok := m[envKey]
		if !ok {
			continue
		}
		if _, inProc := os.LookupEnv(envKey); inProc {
			continue
		}
		v.Set(key, val)
	}
	return nil
}

func merge(cwdAbs string, v *viper.Viper, cli CLIArgs, cfgPath string) (EffectiveConfig, error) {
	where := cfgPath
	if where == "" {
		where = "<defaults+env>"
	}
	invalid := func(format string, a ...any) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: where, Err: fmt.Errorf(format, a...)}
	}

	dataDir := v.GetString(keyDataDir)
	if cli.DataDirSet {
		dataDir = cli.DataDir
	}
	if strings.TrimSpace(dataDir) == "" {
		return invalid("data_dir 不能为空")
	}
	dataDir = absCleanFrom(cwdAbs, dataDir)

	validDir := filepath.Join(dataDir, "games")
	if s := strings.TrimSpace(v.GetString(keyValidDir)); s != "" {
		validDir = absCleanFrom(cwdAbs, s)
	}
	trashDir := filepath.Join(dataDir, "trash")
	if s := strings.TrimSpace(v.GetString(keyTrashDir)); s != "" {
		trashDir = absCleanFrom(cwdAbs, s)
	}
	if validDir == trashDir {
		return invalid("valid_dir 与 trash_dir 不能是同一目录：%q", validDir)
	}

	concurrency := v.GetInt(keyConcurrency)
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	// 范围 [1, 8]；超出截断。
	concurrency = max(1, min(concurrency, MaxConcurrency))

	delay := v.GetDuration(keyDelay)
	if delay < 0 {
		return invalid("delay 不能为负：%s", delay)
	}
	timeout := v.GetDuration(keyTimeout)
	if timeout <= 0 {
		return invalid("timeout 必须为正：%s", timeout)
	}
	retryMax := v.GetInt(keyRetryMax)
	if retryMax < 0 {
		return invalid("retry_max 不能为负：%d", retryMax)
	}
	retryMax = min(retryMax, MaxRetryMax)

	baseURL := strings.TrimRight(strings.TrimSpace(v.GetString(keyBaseURL)), "/")
	if err := checkHTTPURL(baseURL); err != nil {
		return invalid("base_url 无效：%v", err)
	}
	language := strings.TrimSpace(v.GetString(keyLanguage))
	if language == "" {
		language = DefaultLanguage
	}
	proxyURL := strings.TrimSpace(v.GetString(keyProxyURL))
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("proxy.url 无效：%q", proxyURL)
		}
	}

	summaryEvery := v.GetInt(keySummaryEvery)
	if summaryEvery < 1 {
		return invalid("summary_every 必须 >= 1：%d", summaryEvery)
	}

	validation := strings.ToLower(strings.TrimSpace(v.GetString(keyValidation)))
	switch validation {
	case "":
		validation = DefaultValidation
	case "default", "strict":
	default:
		return invalid("validation 只能是 default 或 strict，实际是 %q", validation)
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString(keyLogLevel)))
	switch logLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level 只能是 debug/info/warn/error，实际是 %q", logLevel)
	}
	logEncoding := strings.ToLower(strings.TrimSpace(v.GetString(keyLogEncoding)))
	switch logEncoding {
	case "console", "json":
	default:
		return invalid("log.encoding 只能是 console 或 json，实际是 %q", logEncoding)
	}

	dryRun := v.GetBool(keyDryRun)
	if cli.DryRunSet {
		dryRun = cli.DryRun
	}

	return EffectiveConfig{
		ConfigFile:   cfgPath,
		DataDir:      dataDir,
		ValidDir:     validDir,
		TrashDir:     trashDir,
		Concurrency:  concurrency,
		Delay:        delay,
		Timeout:      timeout,
		RetryMax:     retryMax,
		BaseURL:      baseURL,
		Language:     language,
		ProxyURL:     proxyURL,
		SummaryEvery: summaryEvery,
		Validation:   validation,
		LogLevel:     logLevel,
		LogEncoding:  logEncoding,
		DryRun:       dryRun,
	}, nil
}

func checkHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", s)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
