// 包 logger：进程级日志器，由 LOG_LEVEL / LOG_FORMAT 控制级别与格式
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"cdn-router/internal/config"
)

var defaultLogger *slog.Logger

// Setup：按 LOG_LEVEL / LOG_FORMAT 初始化默认日志器，输出到标准错误
func Setup() *slog.Logger {
	defaultLogger = New(os.Stderr, config.String("LOG_LEVEL"), config.String("LOG_FORMAT"))
	return defaultLogger
}

// New：构造日志器；level 为 debug|info|warn|error，format 为 json|text，未知值回落到 info/text
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard：丢弃所有输出，供测试与未注入日志器的组件使用
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// L：获取默认日志器；未初始化时按环境变量初始化
func L() *slog.Logger {
	if defaultLogger == nil {
		return Setup()
	}
	return defaultLogger
}
