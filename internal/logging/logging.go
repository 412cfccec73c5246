// Package logging wires the gateway's zap logger and the per-instance
// rotating writer used to forward a worker's stdio. Grounded on the
// teacher's pkg/logger (zap + lumberjack), trimmed to what the supervisor
// and HTTP middleware need.
package logging

import (
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the root logger. format is "console" or "json"; level is a
// zap level name ("debug", "info", "warn", "error").
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(newStdoutSink())), lvl)
	return zap.New(core, zap.AddCaller()), nil
}

// InstanceWriter returns a rotating file writer for one instance's worker
// stdio, rooted at <sessionPath>/logs/worker.log.
func InstanceWriter(sessionPath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(sessionPath, "logs", "worker.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
}
