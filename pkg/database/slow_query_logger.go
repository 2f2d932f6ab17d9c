package database

import (
	"context"
	"errors"
	"time"

	"github.com/agentflow-go/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold is used when Config.SlowQueryThreshold is zero
const SlowQueryThreshold = 200 * time.Millisecond

// SlowQueryLogger routes gorm's log output to the service logger. Only
// errors and queries slower than the threshold are reported.
type SlowQueryLogger struct {
	logger    logger.Logger
	threshold time.Duration
	level     gormlogger.LogLevel
}

func NewSlowQueryLogger(log logger.Logger, threshold time.Duration) *SlowQueryLogger {
	if threshold <= 0 {
		threshold = SlowQueryThreshold
	}
	return &SlowQueryLogger{
		logger:    log,
		threshold: threshold,
		level:     gormlogger.Warn,
	}
}

func (l *SlowQueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SlowQueryLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(msg, "args", args)
	}
}

func (l *SlowQueryLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(msg, "args", args)
	}
}

func (l *SlowQueryLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(msg, "args", args)
	}
}

func (l *SlowQueryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error("Query failed", "error", err, "query", sql, "rows", rows, "duration", elapsed)
	case elapsed > l.threshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("Slow query detected",
			"query", sql,
			"rows", rows,
			"duration", elapsed,
			"threshold", l.threshold,
		)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug("Query", "query", sql, "rows", rows, "duration", elapsed)
	}
}
