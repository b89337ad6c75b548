// Package obslog is the ambient structured-logging wrapper shared by every
// core component, built on go.uber.org/zap the way the gateway's own
// (unretrieved) pkg/log package is called from pkg/gateway: a terse
// package-level Logf for one-liners, plus a sugared logger for structured
// fields where a component needs them.
package obslog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	logger *zap.SugaredLogger
)

func L() *zap.SugaredLogger {
	once.Do(func() {
		z, err := zap.NewProduction()
		if err != nil {
			z = zap.NewNop()
		}
		logger = z.Sugar()
	})
	return logger
}

// Logf matches the teacher's terse log.Logf(format, args...) call sites.
func Logf(format string, args ...any) {
	L().Infof(format, args...)
}

// SetLogger lets the composition root swap in a differently-configured
// logger (e.g. development mode) before any component logs.
func SetLogger(l *zap.SugaredLogger) {
	once.Do(func() {})
	logger = l
}
