// Package worker runs the cast loop: it drains the submission queue, turns
// each submission into a captioned artifact and hands its URL to the receiver
// no faster than the configured pacing interval.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/koios/gencast/internal/cast"
	"github.com/koios/gencast/internal/compose"
	"github.com/koios/gencast/internal/normalize"
	"github.com/koios/gencast/internal/notify"
	"github.com/koios/gencast/internal/publish"
	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
)

const (
	// DefaultWait bounds each queue read and therefore the stop latency
	DefaultWait = 5 * time.Second
	// DefaultPaceStep is the granularity of the pacing sleep
	DefaultPaceStep = time.Second
)

// ProgressSource exposes the host's current in-progress job
type ProgressSource interface {
	Current() (models.Progress, bool)
}

// Options tunes a worker. Zero values select defaults.
type Options struct {
	Wait     time.Duration
	PaceStep time.Duration
	Notifier notify.Notifier
	Progress ProgressSource
	// LivePreview is consulted on every idle cycle
	LivePreview func() bool
}

// Stats is a point in time view of the worker counters
type Stats struct {
	State   string    `json:"state"`
	Device  string    `json:"device"`
	Queued  int       `json:"queued"`
	Cast    int64     `json:"cast"`
	Dropped int64     `json:"dropped"`
	Failed  int64     `json:"failed"`
	LastURL string    `json:"last_url,omitempty"`
	LastAt  time.Time `json:"last_at,omitempty"`
}

type previewKey struct {
	job string
	seq int
}

// Worker owns one casting session
type Worker struct {
	cfg        models.CastConfig
	queue      *Queue
	session    *cast.Session
	compositor *compose.Compositor
	publisher  *publish.Publisher
	opts       Options
	logger     *zap.Logger

	lastSent    time.Time
	lastPreview previewKey

	casts   atomic.Int64
	failed  atomic.Int64
	lastURL atomic.Value // string
	lastAt  atomic.Value // time.Time
}

// New creates a worker for cfg reading from queue
func New(cfg models.CastConfig, queue *Queue, discoverer cast.Discoverer, opts Options, logger *zap.Logger) (*Worker, error) {
	cfg = cfg.WithDefaults()
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.PaceStep <= 0 {
		opts.PaceStep = DefaultPaceStep
	}

	publisher, err := publish.NewPublisher(cfg.TempDir, cfg.BaseCallbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	logger = logger.Named("worker")

	return &Worker{
		cfg:        cfg,
		queue:      queue,
		session:    cast.NewSession(cfg.DeviceName, discoverer, opts.Notifier, logger.Named("session")),
		compositor: compose.NewCompositor(cfg.FontPath, logger),
		publisher:  publisher,
		opts:       opts,
		logger:     logger.With(zap.String("device", cfg.DeviceName)),
	}, nil
}

// Queue returns the submission queue the worker drains
func (w *Worker) Queue() *Queue {
	return w.queue
}

// Stats returns the current counters
func (w *Worker) Stats() Stats {
	s := Stats{
		State:   w.session.State().String(),
		Device:  w.cfg.DeviceName,
		Queued:  w.queue.Len(),
		Cast:    w.casts.Load(),
		Dropped: w.queue.Dropped(),
		Failed:  w.failed.Load(),
	}
	if v, ok := w.lastURL.Load().(string); ok {
		s.LastURL = v
	}
	if v, ok := w.lastAt.Load().(time.Time); ok {
		s.LastAt = v
	}
	return s
}

// Run processes submissions until ctx is cancelled. It returns an error only
// when the receiver kind cannot be served.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.Kind != models.ReceiverChromecast {
		w.logger.Error("Critical: receiver kind not supported, casting disabled",
			zap.String("kind", string(w.cfg.Kind)))
		notify.Warn(w.opts.Notifier, fmt.Sprintf("Receiver %s is not supported", w.cfg.Kind))
		return fmt.Errorf("%w: %s", cast.ErrUnsupportedReceiver, w.cfg.Kind)
	}

	w.logger.Info("Cast worker started",
		zap.Int("queue_size", w.queue.Cap()),
		zap.Duration("min_interval", w.cfg.MinInterval))
	defer func() {
		w.session.Disconnect()
		w.logger.Info("Cast worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		sub, ok := w.queue.Get(ctx, w.opts.Wait)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			w.enqueuePreview()
			continue
		}

		if err := w.process(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.failed.Add(1)
			w.logger.Warn("Failed to cast submission",
				zap.String("kind", sub.Kind().String()),
				zap.Error(err))
		}
	}
}

func (w *Worker) process(ctx context.Context, sub models.Submission) error {
	if err := w.session.Ensure(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	res, err := normalize.Normalize(sub)
	if err != nil {
		notify.Warn(w.opts.Notifier, "Failed to read submitted image")
		return err
	}

	meta := sub.Meta()
	captions := make([]string, 0, len(meta.Message)+len(res.Extra))
	captions = append(captions, meta.Message...)
	captions = append(captions, res.Extra...)

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	composed, _, err := w.compositor.Compose(res.Image, createdAt, captions)
	if err != nil {
		notify.Warn(w.opts.Notifier, "Failed to compose image for casting")
		return fmt.Errorf("failed to compose: %w", err)
	}

	artifact, err := w.publisher.Publish(composed, res.Prefix)
	if err != nil {
		notify.Warn(w.opts.Notifier, "Failed to save image for casting")
		return err
	}
	if !artifact.Playable() {
		notify.Warn(w.opts.Notifier, "Image for casting is missing")
		return fmt.Errorf("artifact %s is not playable", artifact.Path)
	}

	if err := w.pace(ctx); err != nil {
		return err
	}

	if err := w.session.Play(ctx, artifact.URL, artifact.MimeType); err != nil {
		notify.Warn(w.opts.Notifier, fmt.Sprintf("Failed to cast to %s", w.cfg.DeviceName))
		return err
	}

	w.lastSent = time.Now()
	w.casts.Add(1)
	w.lastURL.Store(artifact.URL)
	w.lastAt.Store(w.lastSent)
	w.logger.Info("Image cast",
		zap.String("kind", sub.Kind().String()),
		zap.String("url", artifact.URL))
	return nil
}

// pace sleeps in steps until MinInterval has elapsed since the last send
func (w *Worker) pace(ctx context.Context) error {
	if w.lastSent.IsZero() {
		return nil
	}
	for {
		remaining := w.cfg.MinInterval - time.Since(w.lastSent)
		if remaining <= 0 {
			return nil
		}
		step := w.opts.PaceStep
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
}

// enqueuePreview queues the host's latest preview frame, if any, for the next cycle
func (w *Worker) enqueuePreview() bool {
	sub, ok := w.previewSubmission()
	if !ok {
		return false
	}
	w.queue.Put(sub)
	return true
}

// previewSubmission returns the host's latest preview frame when live preview
// is on and the frame has not been cast yet
func (w *Worker) previewSubmission() (models.Submission, bool) {
	if w.opts.Progress == nil || w.opts.LivePreview == nil || !w.opts.LivePreview() {
		return nil, false
	}

	p, ok := w.opts.Progress.Current()
	if !ok || p.Image == nil {
		return nil, false
	}

	key := previewKey{job: p.JobID, seq: p.PreviewSeq}
	if key == w.lastPreview {
		return nil, false
	}
	w.lastPreview = key

	startedAt := p.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return models.InProgressSubmission{
		SubmissionMeta: models.NewMeta(startedAt),
		Preview:        p.Image,
		Params:         p.Params,
	}, true
}
