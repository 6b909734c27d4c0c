// Package cast owns the connection to the physical receiver: discovery by
// name, lazy connect, readiness wait, playback and disconnect.
package cast

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceNotFound means the named device is not in the discovered set
	ErrDeviceNotFound = errors.New("cast device not found")
	// ErrTransport wraps any failure talking to the receiver
	ErrTransport = errors.New("cast transport error")
	// ErrUnsupportedReceiver means the configured receiver kind is not implemented
	ErrUnsupportedReceiver = errors.New("unsupported receiver kind")
)

// Receiver is a connected playback device
type Receiver interface {
	Name() string
	// WaitReady blocks until the receiver reports a ready state or timeout elapses
	WaitReady(ctx context.Context, timeout time.Duration) error
	// Play instructs the receiver to load url and returns without awaiting playback
	Play(ctx context.Context, url, mimeType string) error
	Close() error
}

// Discoverer finds receivers on the network
type Discoverer interface {
	// ListDevices scans the network and returns the display names found, sorted
	ListDevices(ctx context.Context) ([]string, error)
	// Discover looks for the named device and connects to it
	Discover(ctx context.Context, name string) (Receiver, error)
}
