package clog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// newHandler 按配置构造 slog.Handler，级别由 levelVar 动态控制
func newHandler(config *Config, o *options, levelVar *slog.LevelVar) (slog.Handler, io.Closer, error) {
	w, closer, err := resolveWriter(config, o)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		AddSource:   config.AddSource,
		Level:       levelVar,
		ReplaceAttr: newReplaceAttr(config),
	}

	if strings.EqualFold(config.Format, "json") {
		return slog.NewJSONHandler(w, opts), closer, nil
	}
	return slog.NewTextHandler(w, opts), closer, nil
}

func resolveWriter(config *Config, o *options) (io.Writer, io.Closer, error) {
	if o.writer != nil {
		return o.writer, nil, nil
	}
	switch strings.ToLower(config.Output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if dir := filepath.Dir(config.Output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

// newReplaceAttr 统一 level / time / source 字段的输出格式
func newReplaceAttr(config *Config) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.LevelKey:
			if level, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(levelName(level))
			}
		case slog.TimeKey:
			if a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().Format(timeFormat))
			}
		case slog.SourceKey:
			if source, ok := a.Value.Any().(*slog.Source); ok {
				return slog.String("caller", fmt.Sprintf("%s:%d", trimSourcePath(source.File, config.SourceRoot), source.Line))
			}
		}
		return a
	}
}

func levelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG"
	case level <= slog.LevelInfo:
		return "INFO"
	case level <= slog.LevelWarn:
		return "WARN"
	case level <= slog.LevelError:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// trimSourcePath 裁剪调用文件路径：优先相对 sourceRoot，其次截取到 "mesh/"
func trimSourcePath(fileName, sourceRoot string) string {
	if sourceRoot != "" && filepath.IsAbs(sourceRoot) {
		if rel, err := filepath.Rel(sourceRoot, fileName); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	if idx := strings.LastIndex(fileName, "/mesh/"); idx != -1 {
		return fileName[idx+1:]
	}
	return filepath.Base(fileName)
}
