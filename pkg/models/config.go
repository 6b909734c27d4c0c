package models

import (
	"fmt"
	"strings"
	"time"
)

// ReceiverKind is the family of cast receiver
type ReceiverKind string

const (
	ReceiverChromecast ReceiverKind = "chromecast"
	ReceiverAirPlay    ReceiverKind = "airplay"
)

// ParseReceiverKind parses a receiver kind name, case insensitive
func ParseReceiverKind(s string) (ReceiverKind, error) {
	switch ReceiverKind(strings.ToLower(strings.TrimSpace(s))) {
	case ReceiverChromecast, "":
		return ReceiverChromecast, nil
	case ReceiverAirPlay:
		return ReceiverAirPlay, nil
	default:
		return "", fmt.Errorf("unknown receiver kind: %s", s)
	}
}

const (
	DefaultQueueSize   = 10
	DefaultMinInterval = 2 * time.Second
)

// CastConfig is the immutable configuration of one casting session
type CastConfig struct {
	Kind            ReceiverKind
	DeviceName      string
	BaseCallbackURL string
	TempDir         string
	FontPath        string // optional; empty selects the bitmap fallback font
	QueueSize       int
	MinInterval     time.Duration
}

// WithDefaults returns a copy with zero values replaced by defaults
func (c CastConfig) WithDefaults() CastConfig {
	if c.Kind == "" {
		c.Kind = ReceiverChromecast
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	return c
}
