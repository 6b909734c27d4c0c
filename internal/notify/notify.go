// Package notify surfaces user visible notices without ever blocking the caller.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
)

// Notifier receives user visible notices
type Notifier interface {
	Notify(n models.Notice)
}

// Info sends an info notice
func Info(n Notifier, msg string) {
	send(n, models.NoticeInfo, msg)
}

// Warn sends a warning notice
func Warn(n Notifier, msg string) {
	send(n, models.NoticeWarning, msg)
}

func send(n Notifier, level models.NoticeLevel, msg string) {
	if n == nil {
		return
	}
	n.Notify(models.Notice{Level: level, Message: msg, Time: time.Now()})
}

// Buffer keeps the most recent notices in memory
type Buffer struct {
	mu      sync.Mutex
	notices []models.Notice
	size    int
}

// NewBuffer creates a buffer holding up to size notices
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 100
	}
	return &Buffer{size: size}
}

// Notify records a notice, discarding the oldest when full
func (b *Buffer) Notify(n models.Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.notices) == b.size {
		copy(b.notices, b.notices[1:])
		b.notices = b.notices[:b.size-1]
	}
	b.notices = append(b.notices, n)
}

// Recent returns a copy of the buffered notices, oldest first
func (b *Buffer) Recent() []models.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.Notice, len(b.notices))
	copy(out, b.notices)
	return out
}

// Logger mirrors notices into the structured log
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a notifier writing to logger
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("notice")}
}

// Notify logs the notice at a level matching its severity
func (l *Logger) Notify(n models.Notice) {
	switch n.Level {
	case models.NoticeWarning:
		l.logger.Warn(n.Message)
	default:
		l.logger.Info(n.Message)
	}
}

// Multi fans a notice out to several notifiers
type Multi []Notifier

// Notify forwards to every non nil notifier
func (m Multi) Notify(n models.Notice) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}

// PublishFunc delivers one notice to an external sink
type PublishFunc func(ctx context.Context, n models.Notice) error

// Async forwards notices to a PublishFunc from a background goroutine.
// Notify never blocks; notices are dropped while the buffer is full.
type Async struct {
	publish PublishFunc
	ch      chan models.Notice
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewAsync creates an async notifier buffering up to size notices
func NewAsync(publish PublishFunc, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = 64
	}
	return &Async{
		publish: publish,
		ch:      make(chan models.Notice, size),
		logger:  logger,
	}
}

// Notify queues n for delivery
func (a *Async) Notify(n models.Notice) {
	select {
	case a.ch <- n:
	default:
		a.dropped.Add(1)
	}
}

// Dropped returns the number of notices discarded because the buffer was full
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Run delivers queued notices until ctx is cancelled
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-a.ch:
			if err := a.publish(ctx, n); err != nil {
				a.logger.Warn("Failed to publish notice", zap.Error(err))
			}
		}
	}
}
