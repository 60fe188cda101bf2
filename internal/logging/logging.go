// Package logging provides categorized zap loggers for the catalog
// subsystems. Until Init is called, loggers are no-ops, which keeps library
// use and tests quiet.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log categories, one per subsystem.
const (
	CategoryCatalog = "catalog"
	CategoryExtract = "extract"
	CategoryIndex   = "index"
	CategoryQuery   = "query"
	CategoryWatch   = "watch"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init builds the process logger. Verbose lowers the level to Debug.
func Init(verbose bool) error {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	base = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the process logger; tests use this to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// L returns the named logger for a category.
func L(category string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(category)
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
