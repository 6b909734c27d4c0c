package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/koios/gencast/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	MinPort     = 1024
	MaxPort     = 32000
	DefaultPort = 7861
)

// Settings are the user editable casting options persisted between runs
type Settings struct {
	Port            int    `yaml:"port" json:"port"`
	ResumeOnStart   bool   `yaml:"resume_on_start" json:"resume_on_start"`
	CastLivePreview bool   `yaml:"cast_live_preview" json:"cast_live_preview"`
	DeviceName      string `yaml:"device_name" json:"device_name"`
	Receiver        string `yaml:"receiver" json:"receiver"`
}

// DefaultSettings returns the settings used when no file exists
func DefaultSettings() Settings {
	return Settings{
		Port:     DefaultPort,
		Receiver: string(models.ReceiverChromecast),
	}
}

// Validate checks the port bound and the receiver kind
func (s Settings) Validate() error {
	if s.Port < MinPort || s.Port > MaxPort {
		return fmt.Errorf("port %d out of range %d-%d", s.Port, MinPort, MaxPort)
	}
	if _, err := models.ParseReceiverKind(s.Receiver); err != nil {
		return err
	}
	return nil
}

// ReceiverKind returns the parsed receiver kind
func (s Settings) ReceiverKind() models.ReceiverKind {
	kind, err := models.ParseReceiverKind(s.Receiver)
	if err != nil {
		return models.ReceiverKind(s.Receiver)
	}
	return kind
}

// SettingsStore is a YAML backed settings file safe for concurrent use
type SettingsStore struct {
	path string
	mu   sync.RWMutex
	cur  Settings
}

// LoadSettings reads the settings file at path. A missing file yields the
// defaults; it is written on the first Update.
func LoadSettings(path string) (*SettingsStore, error) {
	store := &SettingsStore{path: path, cur: DefaultSettings()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, &store.cur); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if store.cur.Port == 0 {
		store.cur.Port = DefaultPort
	}
	if store.cur.Receiver == "" {
		store.cur.Receiver = string(models.ReceiverChromecast)
	}
	if err := store.cur.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return store, nil
}

// Get returns a copy of the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies fn to a copy of the settings, validates and persists it
func (s *SettingsStore) Update(fn func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.cur, err
	}
	if err := s.save(next); err != nil {
		return s.cur, err
	}
	s.cur = next
	return next, nil
}

func (s *SettingsStore) save(settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// DetectLocalIP returns the address of the interface used for outbound
// traffic. No packet is sent. Falls back to loopback.
func DetectLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// BaseCallbackURL is the prefix the receiver uses to fetch artifacts
func BaseCallbackURL(host string, port int) string {
	return fmt.Sprintf("http://%s/file=", net.JoinHostPort(host, fmt.Sprint(port)))
}
