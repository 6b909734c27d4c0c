// Package publish persists composited frames as PNG files and derives the URL
// a receiver fetches them from.
package publish

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/koios/gencast/pkg/models"
)

// ErrPublish is returned when an artifact cannot be written
var ErrPublish = errors.New("publish error")

// Publisher writes artifacts into a shared temp directory
type Publisher struct {
	dir     string
	baseURL string
}

// NewPublisher creates a publisher writing under dir and building URLs from baseURL
func NewPublisher(dir, baseURL string) (*Publisher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve temp dir %s: %w", dir, err)
	}
	return &Publisher{dir: abs, baseURL: baseURL}, nil
}

// Dir returns the absolute artifact directory
func (p *Publisher) Dir() string {
	return p.dir
}

// Publish writes img to a fresh uniquely named PNG file. Existing files are
// never overwritten; a partially written file is removed.
func (p *Publisher) Publish(img image.Image, prefix string) (*models.Artifact, error) {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create temp dir: %v", ErrPublish, err)
	}

	path := filepath.Join(p.dir, prefix+uuid.NewString()+".png")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create %s: %v", ErrPublish, path, err)
	}

	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: failed to encode png: %v", ErrPublish, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("%w: failed to close %s: %v", ErrPublish, path, err)
	}

	return &models.Artifact{
		Image:    img,
		Path:     path,
		URL:      URLFor(p.baseURL, path),
		MimeType: models.MimeTypePNG,
		Composed: true,
	}, nil
}

// URLFor builds the fetchable URL of a file path. Each path segment is
// escaped so spaces, '#' and '?' survive the request.
func URLFor(baseURL, path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return baseURL + strings.Join(segments, "/")
}

// ResolveURL maps a URL built by URLFor back to a file path
func ResolveURL(baseURL, rawURL string) (string, bool) {
	if !strings.HasPrefix(rawURL, baseURL) {
		return "", false
	}
	p, err := url.PathUnescape(strings.TrimPrefix(rawURL, baseURL))
	if err != nil {
		return "", false
	}
	return filepath.FromSlash(p), true
}
