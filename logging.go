package station

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppVersion is stamped on every log entry.
const AppVersion = "0.3.0"

// Sampling for non-debug loggers: per message, the first logSampleFirst
// entries each second are kept, then every logSampleEvery-th.
const (
	logSampleFirst = 100
	logSampleEvery = 100
)

// SetupLogger opens a fresh timestamped JSON log file under config.LogDir and
// returns a logger writing to it, and to stdout when config.LogStdout is set.
func SetupLogger(config *Config) (*zap.Logger, error) {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	outputs := []string{logFilePath(config.LogDir, time.Now())}
	if config.LogStdout {
		outputs = append(outputs, "stdout")
	}
	sink, _, err := zap.Open(outputs...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}

	level := parseLogLevel(config.LogLevel)
	debug := level == zapcore.DebugLevel
	core := zapcore.NewCore(zapcore.NewJSONEncoder(logEncoderConfig()), sink, level)
	if !debug {
		core = zapcore.NewSamplerWithOptions(core, time.Second, logSampleFirst, logSampleEvery)
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(
			zap.String("version", AppVersion),
			zap.Int("pid", os.Getpid()),
		),
	}
	if debug {
		opts = append(opts, zap.Development())
	}

	return zap.New(core, opts...), nil
}

func logFilePath(dir string, now time.Time) string {
	return filepath.Join(dir, "station_log_"+now.Format("20060102_150405")+".log")
}

func logEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	return ec
}

// parseLogLevel accepts debug, info, warn and error in any case. Anything
// else, including levels above error, falls back to info.
func parseLogLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil || l > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return l
}
