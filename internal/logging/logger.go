// Package logging holds the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is shared by every package; Init reconfigures it in place.
var Logger = logrus.New()

// Options controls where and how log entries are written.
type Options struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init applies opts to Logger. Output always goes to stdout; a rotating
// file is added when opts.File is set.
func Init(opts Options) error {
	level, err := logrus.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	Logger.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		Logger.SetOutput(os.Stdout)
		return nil
	}

	if dir := filepath.Dir(opts.File); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}

	logFile := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.MaxSizeMB, 10),
		MaxBackups: orDefault(opts.MaxBackups, 3),
		MaxAge:     orDefault(opts.MaxAgeDays, 28),
		Compress:   true,
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}

// Discard silences Logger; tests call it to keep output readable.
func Discard() {
	Logger.SetOutput(io.Discard)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
