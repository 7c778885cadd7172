package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps debug/info/warn/error; anything else is info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a JSON (default) or console logger. The returned AtomicLevel
// changes the level of the running logger.
func New(level, format, serviceName string) (*zap.Logger, zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevelAt(ParseLevel(level))

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	cfg.Level = atom

	logger, err := cfg.Build()
	if err != nil {
		return nil, atom, err
	}
	if serviceName != "" {
		logger = logger.With(zap.String("service_name", serviceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger, atom, nil
}
