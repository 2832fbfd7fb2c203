// Package logx 构造进程使用的 zap logger。
//
// 日志一律写 stderr：非 TTY 模式下 stdout 只输出一份 RunReport JSON。
package logx

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// ParseLevel 解析日志级别；未知级别返回错误（由配置校验报告给用户）。
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("未知的日志级别：%q（可选 debug|info|warn|error）", level)
	}
}

// New 按级别与编码（console|json）构造 logger，输出到 stderr。
func New(level, encoding string) (*zap.Logger, error) {
	lv, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	enc := strings.ToLower(strings.TrimSpace(encoding))
	switch enc {
	case "":
		enc = EncodingConsole
	case EncodingConsole, EncodingJSON:
	default:
		return nil, fmt.Errorf("未知的日志编码：%q（可选 console|json）", encoding)
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = enc
	cfg.Level = zap.NewAtomicLevelAt(lv)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if enc == EncodingConsole {
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true
	}
	// 不采样：每个 app_id 的失败都要有日志。
	cfg.Sampling = nil

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("构造 logger 失败：%w", err)
	}
	return l, nil
}
