// Package notify delivers run notifications. The log notifier here is the
// default; memory and pubsub adapters live in subpackages.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// Log writes notifications to the structured log.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

// Notify implements catalog.Notifier.
func (l *Log) Notify(_ context.Context, n catalog.Notification) error {
	l.logger.Info(n.Head, zap.String("body", n.Body), zap.String("url", n.URL))
	return nil
}
