package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig configures the SQL logger installed on the gorm connection.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// Expected marks errors the caller recovers from, such as serialization
	// failures on the sequence counter. They are logged at debug.
	Expected func(error) bool
	// Base defaults to the global logger.
	Base *zap.Logger
}

// ParseGormLevel maps a log level name onto gorm's levels. Unknown names
// fall back to warn.
func ParseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent", "off":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// GormLogger writes gorm statements and messages through zap.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data...)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data...)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data...)
}

func (l *GormLogger) printf(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data ...interface{}) {
	if l.cfg.Level < min {
		return
	}
	if len(data) > 0 {
		msg = fmt.Sprintf(msg, data...)
	}
	if ce := l.logger(ctx).Check(level, msg); ce != nil {
		ce.Write(zap.String("component", "gorm"))
	}
}

// Trace logs one executed statement. Failed statements log at error
// unless the error is expected, slow ones at warn, and the rest only
// when the level is info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.expected(err):
		l.writeStatement(ctx, zapcore.DebugLevel, "sql.expected_error", fc, elapsed, err)
	case err != nil && l.cfg.Level >= gormlogger.Error:
		l.writeStatement(ctx, zapcore.ErrorLevel, "sql.error", fc, elapsed, err)
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		l.writeStatement(ctx, zapcore.WarnLevel, "sql.slow", fc, elapsed, nil)
	case l.cfg.Level >= gormlogger.Info:
		l.writeStatement(ctx, zapcore.DebugLevel, "sql", fc, elapsed, nil)
	}
}

// ParamsFilter keeps bound values out of the statement unless the
// logger runs at info.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, params ...interface{}) (string, []interface{}) {
	if l.cfg.Level >= gormlogger.Info {
		return sql, params
	}
	return sql, nil
}

func (l *GormLogger) expected(err error) bool {
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		return true
	}
	return l.cfg.Expected != nil && l.cfg.Expected(err)
}

func (l *GormLogger) logger(ctx context.Context) *zap.Logger {
	base := l.cfg.Base
	if base == nil {
		base = zap.L()
	}
	return WithContext(ctx, base)
}

func (l *GormLogger) writeStatement(ctx context.Context, level zapcore.Level, msg string, fc func() (string, int64), elapsed time.Duration, err error) {
	ce := l.logger(ctx).Check(level, msg)
	if ce == nil {
		return
	}
	sql, rows := fc()
	sql = strings.TrimSpace(sql)
	verb, table := describeStatement(sql)
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", verb),
		zap.String("table", table),
		zap.Float64("elapsed_ms", float64(elapsed.Microseconds())/1000),
		zap.String("sql", sql),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// describeStatement returns the leading verb of sql and the first table it
// reads or writes, both lower-cased. CTE prefixes are skipped.
func describeStatement(sql string) (verb, table string) {
	tokens := strings.Fields(strings.ToLower(sql))
	for i := 0; i < len(tokens); i++ {
		tok := strings.Trim(tokens[i], "();")
		if verb == "" {
			switch tok {
			case "select", "insert", "update", "delete":
				verb = tok
				if tok == "update" && i+1 < len(tokens) {
					return verb, cleanTable(tokens[i+1])
				}
			}
			continue
		}
		if (tok == "from" || tok == "into") && i+1 < len(tokens) {
			return verb, cleanTable(tokens[i+1])
		}
	}
	if verb == "" {
		verb = "other"
	}
	return verb, ""
}

func cleanTable(tok string) string {
	tok = strings.Trim(tok, "();,`\"")
	if i := strings.LastIndex(tok, "."); i >= 0 {
		tok = strings.Trim(tok[i+1:], "`\"")
	}
	return tok
}

var _ gormlogger.Interface = (*GormLogger)(nil)
