// Package controller owns the single active casting session of the process
// and exposes start, stop and submit to every ingress path.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koios/gencast/internal/cast"
	"github.com/koios/gencast/internal/config"
	"github.com/koios/gencast/internal/notify"
	"github.com/koios/gencast/internal/worker"
	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
)

// DefaultTeardownTimeout must exceed the worker queue wait
const DefaultTeardownTimeout = 6 * time.Second

// Options configures a controller
type Options struct {
	// Template supplies TempDir, FontPath, QueueSize, MinInterval and
	// BaseCallbackURL for sessions started by device name
	Template        models.CastConfig
	Settings        *config.SettingsStore
	Progress        worker.ProgressSource
	Notifier        notify.Notifier
	TeardownTimeout time.Duration
	Worker          worker.Options
}

// Status describes the controller state
type Status struct {
	Active  bool          `json:"active"`
	Devices []string      `json:"devices"`
	Worker  *worker.Stats `json:"worker,omitempty"`
}

type session struct {
	worker *worker.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller starts and stops cast workers
type Controller struct {
	discoverer cast.Discoverer
	opts       Options
	logger     *zap.Logger

	lifecycle sync.Mutex // serializes Start and Stop
	draining  *session   // stopped but not yet exited; guarded by lifecycle
	mu        sync.Mutex
	devices   []string
	active    *session
}

// New creates a controller with no active session
func New(discoverer cast.Discoverer, opts Options, logger *zap.Logger) *Controller {
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	if opts.Worker.Notifier == nil {
		opts.Worker.Notifier = opts.Notifier
	}
	if opts.Worker.Progress == nil {
		opts.Worker.Progress = opts.Progress
	}
	if opts.Worker.LivePreview == nil && opts.Settings != nil {
		settings := opts.Settings
		opts.Worker.LivePreview = func() bool { return settings.Get().CastLivePreview }
	}
	return &Controller{
		discoverer: discoverer,
		opts:       opts,
		logger:     logger.Named("controller"),
	}
}

// RefreshDevices rescans the network and replaces the cached device list
func (c *Controller) RefreshDevices(ctx context.Context) ([]string, error) {
	devices, err := c.discoverer.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cast devices: %w", err)
	}

	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()

	c.logger.Info("Cast devices refreshed", zap.Int("count", len(devices)))
	return devices, nil
}

// Devices returns the cached device list
func (c *Controller) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.devices))
	copy(out, c.devices)
	return out
}

func (c *Controller) known(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.devices {
		if d == name {
			return true
		}
	}
	return false
}

// ConfigFor builds a session configuration for deviceName from the template
// and the current settings
func (c *Controller) ConfigFor(deviceName string) models.CastConfig {
	cfg := c.opts.Template
	cfg.DeviceName = deviceName
	if c.opts.Settings != nil {
		cfg.Kind = c.opts.Settings.Get().ReceiverKind()
	}
	return cfg.WithDefaults()
}

// StartDevice starts casting to deviceName and remembers it in the settings
func (c *Controller) StartDevice(deviceName string) bool {
	if !c.Start(deviceName, c.ConfigFor(deviceName)) {
		return false
	}
	if c.opts.Settings != nil {
		if _, err := c.opts.Settings.Update(func(s *config.Settings) { s.DeviceName = deviceName }); err != nil {
			c.logger.Warn("Failed to save selected device", zap.Error(err))
		}
	}
	return true
}

// Start begins a casting session, replacing any running one. It returns
// false if deviceName is not among the discovered devices.
func (c *Controller) Start(deviceName string, cfg models.CastConfig) bool {
	if !c.known(deviceName) {
		c.logger.Warn("Cast device not in discovered list", zap.String("device", deviceName))
		notify.Warn(c.opts.Notifier, fmt.Sprintf("Cast device %s not found", deviceName))
		return false
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	// The previous worker may still hold its receiver connection
	if !c.stopLocked() {
		c.logger.Warn("Previous cast worker still running, start refused",
			zap.String("device", deviceName))
		notify.Warn(c.opts.Notifier, fmt.Sprintf("Cast device %s is busy, try again shortly", deviceName))
		return false
	}

	cfg.DeviceName = deviceName
	w, err := worker.New(cfg, worker.NewQueue(cfg.QueueSize), c.discoverer, c.opts.Worker, c.logger)
	if err != nil {
		c.logger.Error("Failed to create cast worker", zap.Error(err))
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{worker: w, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	go func() {
		defer close(s.done)
		if err := w.Run(ctx); err != nil {
			c.logger.Error("Cast worker exited", zap.Error(err))
		}

		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	c.logger.Info("Casting started", zap.String("device", deviceName))
	return true
}

// Stop ends the active session, waiting up to the teardown timeout. It
// reports false if the worker did not exit in time; that worker is then
// tracked until it exits and no new session starts before it does.
func (c *Controller) Stop() bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.stopLocked()
}

func (c *Controller) stopLocked() bool {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s != nil {
		s.cancel()
		c.draining = s
	}
	if c.draining == nil {
		return true
	}

	select {
	case <-c.draining.done:
		c.draining = nil
		c.logger.Info("Casting stopped")
		return true
	case <-time.After(c.opts.TeardownTimeout):
		c.logger.Warn("Cast worker did not stop in time",
			zap.Duration("timeout", c.opts.TeardownTimeout))
		return false
	}
}

// Submit enqueues sub on the active session without blocking. With no
// session the submission is dropped.
func (c *Controller) Submit(sub models.Submission) bool {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	if s == nil {
		c.logger.Debug("No active cast session, submission dropped",
			zap.String("kind", sub.Kind().String()))
		return false
	}

	if s.worker.Queue().Put(sub) {
		c.logger.Debug("Cast queue full, oldest submission dropped")
	}
	return true
}

// Active reports whether a session is running
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Status returns the session state and the cached device list
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()

	st := Status{Active: s != nil, Devices: c.Devices()}
	if s != nil {
		stats := s.worker.Stats()
		st.Worker = &stats
	}
	return st
}

// ResumeOnStart restarts casting to the last selected device when the
// settings ask for it
func (c *Controller) ResumeOnStart(ctx context.Context) bool {
	if c.opts.Settings == nil {
		return false
	}
	settings := c.opts.Settings.Get()
	if !settings.ResumeOnStart || settings.DeviceName == "" {
		return false
	}

	if _, err := c.RefreshDevices(ctx); err != nil {
		c.logger.Warn("Failed to resume casting", zap.Error(err))
		return false
	}
	if !c.Start(settings.DeviceName, c.ConfigFor(settings.DeviceName)) {
		return false
	}
	c.logger.Info("Casting resumed", zap.String("device", settings.DeviceName))
	return true
}
