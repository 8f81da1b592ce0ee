package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"knowledge-assistant/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// maxLoggedSQL 分块写入的 SQL 带有整段向量字节，日志里只保留前面一截
const maxLoggedSQL = 1024

// GormZapLogger GORM 日志适配器，输出到 zap 并带上请求的 trace_id
type GormZapLogger struct {
	zap           *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewGormZapLogger logSQL 为 true 时记录每条 SQL，否则只记录错误和慢查询
func NewGormZapLogger(zl *zap.Logger, logSQL bool, slowThreshold time.Duration) *GormZapLogger {
	if zl == nil {
		zl = zap.NewNop()
	}
	level := gormLogger.Warn
	if logSQL {
		level = gormLogger.Info
	}
	return &GormZapLogger{zap: zl, level: level, slowThreshold: slowThreshold}
}

// LogMode 设置日志级别
func (l *GormZapLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.with(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.with(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.with(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace SQL 执行日志。记录不存在属于正常分支（按外部 ID 查文档），不当作错误。
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	isErr := err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound)
	isSlow := l.slowThreshold > 0 && elapsed > l.slowThreshold
	if !isErr && !isSlow && l.level < gormLogger.Info {
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", truncateSQL(sql)),
		zap.Int64("rows", rows),
	}

	log := l.with(ctx)
	switch {
	case isErr && l.level >= gormLogger.Error:
		log.Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case isSlow && l.level >= gormLogger.Warn:
		log.Warn("SQL 慢查询", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	case l.level >= gormLogger.Info:
		log.Debug("SQL 执行", fields...)
	}
}

func (l *GormZapLogger) with(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.zap
	}
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		return l.zap.With(zap.String("trace_id", traceID))
	}
	return l.zap
}

func truncateSQL(sql string) string {
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	return fmt.Sprintf("%s...(%d bytes)", sql[:maxLoggedSQL], len(sql))
}
