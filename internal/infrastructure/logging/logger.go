package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggerConfig struct {
	// FilePath is a directory; when set, logs are also written to a rotating file in it.
	FilePath   string `koanf:"file_path"`
	Encoding   string `koanf:"encoding" validate:"omitempty,oneof=json console"`
	Level      string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
}

var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// New builds the process logger. Console output always goes to stderr so the
// CLI can keep stdout for command output.
func New(cfg LoggerConfig, appName string) (*zap.Logger, error) {
	level, ok := levels[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(consoleSyncer{os.Stderr}), level),
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(cfg.FilePath, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.FilePath, appName+".log"),
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).
		With(zap.String(string(AppName), appName))
	return logger, nil
}

// For scopes a logger to a category, the way every component tags its output.
func For(l *zap.Logger, cat Category, sub SubCategory) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("category", string(cat)), zap.String("subCategory", string(sub)))
}

// Fields turns ad-hoc extras into zap fields.
func Fields(extra map[ExtraKey]any) []zap.Field {
	fields := make([]zap.Field, 0, len(extra))
	for k, v := range extra {
		fields = append(fields, zap.Any(string(k), v))
	}
	return fields
}

// consoleSyncer ignores the errors fsync returns for pipes and terminals, so
// Sync on shutdown only reports failures of real files.
type consoleSyncer struct {
	zapcore.WriteSyncer
}

func (c consoleSyncer) Sync() error {
	err := c.WriteSyncer.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
