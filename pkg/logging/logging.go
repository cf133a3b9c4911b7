package logging

import (
	"github.com/canopy-network/datepoll/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger from LOG_LEVEL and LOG_ENCODING.
func New() (*zap.Logger, error) {
	return NewWith(utils.Env("LOG_LEVEL", "info"), utils.Env("LOG_ENCODING", "json"))
}

// NewWith builds a logger for an explicit level and encoding.
func NewWith(level, encoding string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": "datepoll"}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}

// OrNop guarantees a non-nil logger for components constructed without one.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
