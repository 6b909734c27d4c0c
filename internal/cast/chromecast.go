package cast

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/vishen/go-chromecast/application"
	"github.com/vishen/go-chromecast/dns"
	"go.uber.org/zap"
)

// DefaultDiscoveryTimeout bounds a single mDNS scan
const DefaultDiscoveryTimeout = 5 * time.Second

const readyPollInterval = 250 * time.Millisecond

// Chromecast discovers and connects to Google Cast receivers over mDNS
type Chromecast struct {
	iface   *net.Interface
	timeout time.Duration
	logger  *zap.Logger
}

// NewChromecast creates a discoverer. A nil iface scans every interface.
func NewChromecast(iface *net.Interface, timeout time.Duration, logger *zap.Logger) *Chromecast {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	return &Chromecast{
		iface:   iface,
		timeout: timeout,
		logger:  logger.Named("chromecast"),
	}
}

// ListDevices runs a full scan and returns the friendly names found
func (c *Chromecast) ListDevices(ctx context.Context) ([]string, error) {
	c.logger.Info("Scanning for cast devices", zap.Duration("timeout", c.timeout))

	entries, err := c.browse(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	names := make([]string, 0)
	for entry := range entries {
		c.logger.Debug("Cast device discovered",
			zap.String("uuid", entry.UUID),
			zap.String("name", entry.DeviceName))
		if entry.DeviceName == "" || seen[entry.DeviceName] {
			continue
		}
		seen[entry.DeviceName] = true
		names = append(names, entry.DeviceName)
	}
	sort.Strings(names)
	return names, nil
}

// Discover scans for the named device and connects to the first match
func (c *Chromecast) Discover(ctx context.Context, name string) (Receiver, error) {
	scanCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	entries, err := c.browse(scanCtx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case <-scanCtx.Done():
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		case entry, ok := <-entries:
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
			}
			if entry.DeviceName != name {
				continue
			}
			return c.connect(entry)
		}
	}
}

func (c *Chromecast) browse(ctx context.Context) (<-chan dns.CastEntry, error) {
	scanCtx, cancel := context.WithTimeout(ctx, c.timeout)
	entries, err := dns.DiscoverCastDNSEntries(scanCtx, c.iface)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: discovery failed: %v", ErrTransport, err)
	}

	// out closes when the scan times out even if the resolver keeps its channel open
	out := make(chan dns.CastEntry)
	go func() {
		defer cancel()
		defer close(out)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				select {
				case out <- entry:
				case <-scanCtx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Chromecast) connect(entry dns.CastEntry) (Receiver, error) {
	opts := []application.ApplicationOption{
		application.WithCacheDisabled(true),
	}
	if c.iface != nil {
		opts = append(opts, application.WithIface(c.iface))
	}

	app := application.NewApplication(opts...)
	addr := entry.AddrV4.String()
	if err := app.Start(addr, entry.Port); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s at %s:%d: %v",
			ErrTransport, entry.DeviceName, addr, entry.Port, err)
	}

	c.logger.Info("Connected to cast device",
		zap.String("name", entry.DeviceName),
		zap.String("addr", addr),
		zap.Int("port", entry.Port))

	return &chromecastReceiver{name: entry.DeviceName, app: app}, nil
}

type chromecastReceiver struct {
	name string
	app  *application.Application
}

func (r *chromecastReceiver) Name() string {
	return r.name
}

func (r *chromecastReceiver) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if lastErr = r.app.Update(); lastErr == nil {
			if castApp, _, _ := r.app.Status(); castApp != nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			if lastErr == nil {
				lastErr = fmt.Errorf("no receiver application status after %s", timeout)
			}
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

func (r *chromecastReceiver) Play(_ context.Context, url, mimeType string) error {
	// Detached so the call returns once the receiver accepted the load
	return r.app.Load(url, 0, mimeType, false, true, true)
}

func (r *chromecastReceiver) Close() error {
	return r.app.Close(false)
}
