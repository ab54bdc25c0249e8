package config

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls log files. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	SyncFile   string `mapstructure:"sync_file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Logs owns the log writers of a process.
type Logs struct {
	cfg     LogConfig
	main    io.Writer
	sync    io.Writer
	closers []io.Closer
}

// OpenLogs creates the rotating log files named by cfg. Relative paths are
// resolved against dataDir.
func OpenLogs(cfg LogConfig, dataDir string) *Logs {
	l := &Logs{cfg: cfg, main: os.Stderr}
	if cfg.File != "" {
		lj := l.rotating(ResolvePath(cfg.File, dataDir))
		l.main = io.MultiWriter(os.Stderr, lj)
	}
	l.sync = l.main
	if cfg.SyncFile != "" {
		lj := l.rotating(ResolvePath(cfg.SyncFile, dataDir))
		l.sync = io.MultiWriter(l.main, lj)
	}
	return l
}

// ResolvePath resolves a relative log path against dataDir.
func ResolvePath(path, dataDir string) string {
	if filepath.IsAbs(path) || dataDir == "" {
		return path
	}
	return filepath.Join(dataDir, path)
}

func (l *Logs) rotating(path string) *lumberjack.Logger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    l.cfg.MaxSizeMB,
		MaxBackups: l.cfg.MaxBackups,
		MaxAge:     l.cfg.MaxAgeDays,
		Compress:   l.cfg.Compress,
	}
	l.closers = append(l.closers, lj)
	return lj
}

// Logger returns a logger writing to the main log with the given prefix,
// e.g. "[sync] ".
func (l *Logs) Logger(prefix string) *log.Logger {
	return log.New(l.main, prefix, log.LstdFlags)
}

// SyncLogger writes to the sync log, which also receives the main log
// output when log.sync_file is unset.
func (l *Logs) SyncLogger() *log.Logger {
	return log.New(l.sync, "[sync] ", log.LstdFlags|log.Lmicroseconds)
}

// Close flushes and closes the log files.
func (l *Logs) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
