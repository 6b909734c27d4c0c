package models

import (
	"image"
	"os"
)

const MimeTypePNG = "image/png"

// Artifact is the composited, persisted, URL addressable result of one submission
type Artifact struct {
	Image    image.Image
	Path     string
	URL      string
	MimeType string
	Composed bool
}

// Playable reports whether composition succeeded and the file exists right now
func (a *Artifact) Playable() bool {
	if a == nil || !a.Composed || a.Path == "" {
		return false
	}
	info, err := os.Stat(a.Path)
	return err == nil && info.Mode().IsRegular()
}
