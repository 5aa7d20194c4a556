package logging

import (
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger atomic.Pointer[zap.SugaredLogger]
)

func init() {
	logger.Store(newLogger(zapcore.Lock(os.Stderr)))
}

func newLogger(out zapcore.WriteSyncer) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), out, level)
	return zap.New(core).Sugar()
}

// Configure selects the log level: verbose enables debug output, quiet
// suppresses everything below warnings.
func Configure(verbose, quiet bool) {
	switch {
	case quiet:
		level.SetLevel(zapcore.WarnLevel)
	case verbose:
		level.SetLevel(zapcore.DebugLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// SetOutput redirects all log output. Used by tests.
func SetOutput(out zapcore.WriteSyncer) {
	logger.Store(newLogger(out))
}

func Verbose() bool {
	return level.Enabled(zapcore.DebugLevel)
}

func Debug(format string, args ...interface{}) {
	logger.Load().Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	logger.Load().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	logger.Load().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	logger.Load().Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Load().Error(msg)
	_ = logger.Load().Sync()
	panic(msg)
}
