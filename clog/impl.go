package clog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type loggerImpl struct {
	handler   slog.Handler
	levelVar  *slog.LevelVar
	closer    io.Closer
	options   *options
	baseAttrs []slog.Attr
}

func newLogger(config *Config, o *options) (Logger, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level.slogLevel())

	handler, closer, err := newHandler(config, o, levelVar)
	if err != nil {
		return nil, err
	}

	return &loggerImpl{
		handler:  handler,
		levelVar: levelVar,
		closer:   closer,
		options:  o,
	}, nil
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	opts := *l.options
	opts.namespaceParts = append(append([]string(nil), l.options.namespaceParts...), parts...)

	child := *l
	child.options = &opts
	return &child
}

func (l *loggerImpl) With(fields ...Field) Logger {
	child := *l
	child.baseAttrs = append(append([]slog.Attr(nil), l.baseAttrs...), fields...)
	return &child
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields []Field) {
	slogLevel := level.slogLevel()
	if !l.handler.Enabled(ctx, slogLevel) {
		return
	}

	attrs := make([]slog.Attr, 0, len(l.baseAttrs)+len(fields)+4)
	attrs = append(attrs, l.baseAttrs...)
	attrs = append(attrs, fields...)
	extractContextFields(ctx, l.options, &attrs)
	addNamespaceFields(l.options, &attrs)

	// skip: runtime.Callers, log, Info/Error 等
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), slogLevel, msg, pcs[0])
	record.AddAttrs(attrs...)

	_ = l.handler.Handle(ctx, record)

	if level == FatalLevel {
		l.Flush()
		os.Exit(1)
	}
}

func (l *loggerImpl) SetLevel(level Level) error {
	l.levelVar.Set(level.slogLevel())
	return nil
}

func (l *loggerImpl) Flush() {
	if f, ok := l.closer.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}
