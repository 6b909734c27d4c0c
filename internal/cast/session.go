package cast

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/koios/gencast/internal/notify"
	"go.uber.org/zap"
)

// State of a cast session
type State int32

const (
	StateDisconnected State = iota
	StateDiscovering
	StateConnected
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DefaultReadyTimeout bounds the wait for the receiver before each play
const DefaultReadyTimeout = 5 * time.Second

// Session manages the single receiver connection of a cast worker. It is
// owned by one goroutine; only State may be read concurrently.
type Session struct {
	deviceName   string
	discoverer   Discoverer
	notifier     notify.Notifier
	logger       *zap.Logger
	readyTimeout time.Duration

	receiver Receiver
	state    atomic.Int32
}

// NewSession creates a disconnected session for deviceName
func NewSession(deviceName string, discoverer Discoverer, notifier notify.Notifier, logger *zap.Logger) *Session {
	return &Session{
		deviceName:   deviceName,
		discoverer:   discoverer,
		notifier:     notifier,
		logger:       logger.With(zap.String("device", deviceName)),
		readyTimeout: DefaultReadyTimeout,
	}
}

// State returns the current session state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Connected reports whether a receiver handle is held
func (s *Session) Connected() bool {
	return s.receiver != nil
}

// Ensure connects to the device if no receiver is held yet. A miss leaves the
// session disconnected so the next call retries.
func (s *Session) Ensure(ctx context.Context) error {
	if s.receiver != nil {
		return nil
	}

	s.state.Store(int32(StateDiscovering))
	s.logger.Info("Discovering cast device")

	receiver, err := s.discoverer.Discover(ctx, s.deviceName)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		if errors.Is(err, ErrDeviceNotFound) {
			notify.Warn(s.notifier, fmt.Sprintf("Cast device %s not found", s.deviceName))
		} else {
			notify.Warn(s.notifier, fmt.Sprintf("Failed to connect to cast device %s", s.deviceName))
		}
		return err
	}

	s.receiver = receiver
	s.state.Store(int32(StateConnected))
	notify.Info(s.notifier, fmt.Sprintf("Connecting to cast device %s", s.deviceName))
	s.logger.Info("Cast device connected")
	return nil
}

// Play waits for the receiver to be ready and instructs it to show url. A
// transport failure releases the handle so the next submission reconnects.
func (s *Session) Play(ctx context.Context, url, mimeType string) error {
	if s.receiver == nil {
		return fmt.Errorf("%w: not connected", ErrTransport)
	}

	if err := s.receiver.WaitReady(ctx, s.readyTimeout); err != nil {
		s.logger.Warn("Cast device not ready, casting anyway",
			zap.Duration("timeout", s.readyTimeout),
			zap.Error(err))
	}

	if err := s.receiver.Play(ctx, url, mimeType); err != nil {
		s.drop()
		return fmt.Errorf("%w: play failed: %v", ErrTransport, err)
	}

	s.logger.Debug("Cast play sent", zap.String("url", url))
	return nil
}

// Disconnect releases the receiver if one is held
func (s *Session) Disconnect() {
	if s.receiver == nil {
		return
	}
	notify.Info(s.notifier, fmt.Sprintf("Disconnecting from cast device %s", s.deviceName))
	s.drop()
	s.logger.Info("Cast device disconnected")
}

func (s *Session) drop() {
	if err := s.receiver.Close(); err != nil {
		s.logger.Warn("Failed to close cast connection", zap.Error(err))
	}
	s.receiver = nil
	s.state.Store(int32(StateDisconnected))
}
