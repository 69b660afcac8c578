package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trades-rl/internal/config"
)

const serviceName = "rl-backtester"

// NewLogger 根据配置创建 zap.Logger，console 编码在开发模式下输出彩色级别。
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoding := strings.ToLower(strings.TrimSpace(cfg.Encoding))
	if encoding == "" {
		encoding = "console"
	}
	if encoding != "console" && encoding != "json" {
		return nil, fmt.Errorf("log: 不支持的日志编码 %q", cfg.Encoding)
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := cfg.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig(encoding, cfg.Development),
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
		InitialFields:    map[string]interface{}{"service": serviceName},
	}

	logger, err := zapCfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("log: 创建日志实例失败: %w", err)
	}

	return logger, nil
}

func parseLevel(raw string) (zapcore.Level, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(raw) == "" {
		return level, nil
	}
	if err := level.Set(strings.ToLower(raw)); err != nil {
		return level, fmt.Errorf("log: 解析日志级别失败: %w", err)
	}
	return level, nil
}

func encoderConfig(encoding string, development bool) zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.NameKey = "logger"
	enc.CallerKey = "caller"
	enc.FunctionKey = zapcore.OmitKey
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	switch {
	case encoding == "console" && development:
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case encoding == "console":
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	return enc
}
