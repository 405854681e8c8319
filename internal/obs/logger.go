package obs

import (
	"strings"

	"github.com/yanun0323/logs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging capability injected into core components.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type stdLogger struct{}

// NewLogger returns the default text logger.
func NewLogger() Logger {
	return stdLogger{}
}

func (stdLogger) Debugf(format string, args ...any) { logs.Debugf(format, args...) }
func (stdLogger) Infof(format string, args ...any)  { logs.Infof(format, args...) }
func (stdLogger) Warnf(format string, args ...any)  { logs.Warnf(format, args...) }
func (stdLogger) Errorf(format string, args ...any) { logs.Errorf(format, args...) }

// NewZapLogger builds a JSON production logger at level (debug, info, warn, error).
func NewZapLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Nop discards everything.
func Nop() Logger {
	return zap.NewNop().Sugar()
}

var _ Logger = (*zap.SugaredLogger)(nil)
