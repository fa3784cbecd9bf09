package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	serviceName = "voice-overlay"

	FormatJSON    = "json"
	FormatConsole = "console"

	timeLayout = "2006-01-02 15:04:05.000"
)

// Config selects the level, the stdout format and the rotated file.
type Config struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Format applies to stdout only; the file is always JSON.
	Format string     `mapstructure:"format" yaml:"format"`
	Stdout bool       `mapstructure:"stdout" yaml:"stdout"`
	File   FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig configures the rotated log file.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	Name       string `mapstructure:"name" yaml:"name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// New builds the service logger with one core per enabled sink. With no sink
// enabled it logs to stdout.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	stdoutEncoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	if cfg.Stdout || !cfg.File.Enabled {
		cores = append(cores, zapcore.NewCore(stdoutEncoder, zapcore.Lock(os.Stdout), level))
	}
	if cfg.File.Enabled {
		rotated, err := cfg.File.open()
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotated), level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service", serviceName)),
	), nil
}

// ForSession scopes l to one overlay session.
func ForSession(l *zap.Logger, guildID string, channelID string) *zap.Logger {
	return l.Named("session").With(
		zap.String("guild_id", guildID),
		zap.String("channel_id", channelID),
	)
}

// Validate reports an unknown level or stdout format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	_, err := newEncoder(c.Format)
	return err
}

// ParseLevel accepts the zap level names plus "warning". Empty means info.
func ParseLevel(raw string) (zapcore.Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	level, err := zapcore.ParseLevel(value)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return jsonEncoder(), nil
	case FormatConsole:
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg), nil
	default:
		return nil, fmt.Errorf("log format %q: want %s or %s", format, FormatJSON, FormatConsole)
	}
}

func jsonEncoder() zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder
	return zapcore.NewJSONEncoder(encoderCfg)
}

// open creates the log directory and returns the rotating writer.
func (f FileConfig) open() (*lumberjack.Logger, error) {
	dir := orDefault(f.Path, "./logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, orDefault(f.Name, serviceName+".log")),
		MaxSize:    positiveOr(f.MaxSizeMB, 100),
		MaxBackups: max(f.MaxBackups, 0),
		MaxAge:     max(f.MaxAgeDays, 0),
		Compress:   f.Compress,
		LocalTime:  true,
	}, nil
}

func orDefault(value string, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func positiveOr(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
