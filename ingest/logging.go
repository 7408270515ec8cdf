package ingest

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logTimestampFormat = "2006-01-02 15:04:05.000"

// NewLogger builds the process logger. Components never reach for a global
// logger; they get this one (or a field-scoped child) passed in.
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: logTimestampFormat,
			FullTimestamp:   true,
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	default:
		return nil, errors.Errorf("unsupported log format: %s", cfg.Format)
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		log.SetOutput(os.Stderr)
	case "stdout":
		log.SetOutput(os.Stdout)
	case "file":
		if cfg.FilePath == "" {
			return nil, errors.New("log file_path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		if level >= logrus.DebugLevel {
			log.SetOutput(io.MultiWriter(os.Stderr, rotating))
		} else {
			log.SetOutput(rotating)
		}
	default:
		return nil, errors.Errorf("unsupported log output: %s", cfg.Output)
	}
	return log, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
