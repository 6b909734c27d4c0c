package models

import (
	"image"
	"time"
)

// Submission request types on the wire
const (
	RequestTypeTensor     = "tensor"
	RequestTypeImage      = "image"
	RequestTypeFile       = "file"
	RequestTypeBatch      = "batch"
	RequestTypeInProgress = "in_progress"
)

// SubmissionRequest is the wire form of a submission shared by the HTTP,
// AMQP and Redis ingress paths
type SubmissionRequest struct {
	Type      string            `json:"type"`
	Path      string            `json:"path,omitempty"`
	Image     string            `json:"image,omitempty"`  // base64 encoded PNG/JPEG/WebP
	Images    []string          `json:"images,omitempty"` // base64 encoded, for batches
	Tensor    *Tensor           `json:"tensor,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Message   Message           `json:"message,omitempty"`
	CreatedAt *time.Time        `json:"created_at,omitempty"`
}

// ProgressRequest reports the host's current in-progress job
type ProgressRequest struct {
	JobID      string            `json:"job_id"`
	PreviewSeq int               `json:"preview_seq"`
	Image      string            `json:"image"` // base64 encoded preview frame
	Params     map[string]string `json:"params,omitempty"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
}

// Progress is a snapshot of the host's in-progress job
type Progress struct {
	JobID      string
	PreviewSeq int
	Image      image.Image
	Params     map[string]string
	StartedAt  time.Time
}
