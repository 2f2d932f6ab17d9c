package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	AddCaller  bool   `mapstructure:"add_caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`
}

func New(cfg Config) Logger {
	config := zap.NewProductionConfig()

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "console" {
		config.Encoding = "console"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config.Encoding = "json"
	}

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	config.OutputPaths = []string{output}
	if output == "stdout" {
		config.ErrorOutputPaths = []string{"stderr"}
	} else {
		config.ErrorOutputPaths = []string{output}
	}

	if cfg.AddCaller {
		config.EncoderConfig.CallerKey = "caller"
		config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	} else {
		config.DisableCaller = true
	}

	if cfg.Stacktrace {
		config.Development = true
	} else {
		config.DisableStacktrace = true
	}

	logger, err := config.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewExample()
	}

	return &zapLogger{
		logger: logger.Sugar(),
	}
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() Logger {
	return &zapLogger{
		logger: zap.NewNop().Sugar(),
	}
}

func (l *zapLogger) Debug(msg string, fields ...interface{}) {
	l.logger.Debugw(msg, fields...)
}

func (l *zapLogger) Info(msg string, fields ...interface{}) {
	l.logger.Infow(msg, fields...)
}

func (l *zapLogger) Warn(msg string, fields ...interface{}) {
	l.logger.Warnw(msg, fields...)
}

func (l *zapLogger) Error(msg string, fields ...interface{}) {
	l.logger.Errorw(msg, fields...)
}

func (l *zapLogger) Fatal(msg string, fields ...interface{}) {
	l.logger.Fatalw(msg, fields...)
	os.Exit(1)
}

func (l *zapLogger) With(fields ...interface{}) Logger {
	return &zapLogger{
		logger: l.logger.With(fields...),
	}
}

// Sync flushes buffered entries. Safe to call on any Logger.
func Sync(l Logger) {
	if z, ok := l.(*zapLogger); ok {
		_ = z.logger.Sync()
	}
}

// NewWithCore builds a Logger on top of an existing zap core.
func NewWithCore(core zapcore.Core) Logger {
	return &zapLogger{
		logger: zap.New(core).Sugar(),
	}
}
