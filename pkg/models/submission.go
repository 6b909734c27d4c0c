package models

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// SourceKind identifies which representation a submission carries
type SourceKind int

const (
	KindTensor SourceKind = iota
	KindBitmap
	KindFile
	KindBatch
	KindInProgress
)

// String returns the human readable name of the source kind
func (k SourceKind) String() string {
	switch k {
	case KindTensor:
		return "tensor"
	case KindBitmap:
		return "bitmap"
	case KindFile:
		return "file"
	case KindBatch:
		return "batch"
	case KindInProgress:
		return "in_progress"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FilePrefix returns the temp file prefix used for artifacts of this kind
func (k SourceKind) FilePrefix() string {
	switch k {
	case KindTensor:
		return "torch_to_pil_"
	case KindBitmap:
		return "from_pil_"
	case KindFile:
		return "from_file_"
	case KindBatch:
		return "sd_processed_"
	case KindInProgress:
		return "sd_processing_"
	default:
		return "unknown_"
	}
}

// Message is an ordered list of caption lines. On the wire it is either a
// single string or an array of strings.
type Message []string

// UnmarshalJSON accepts a string, a list of strings or null
func (m *Message) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*m = Message{single}
		return nil
	}

	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("message must be a string or a list of strings: %w", err)
	}
	*m = Message(lines)
	return nil
}

// SubmissionMeta is shared by every submission kind
type SubmissionMeta struct {
	CreatedAt time.Time
	Message   Message
}

// Meta returns the shared metadata. It also seals the Submission interface.
func (m SubmissionMeta) Meta() SubmissionMeta {
	return m
}

// Submission is one unit of work entering the casting pipeline. The set of
// implementations is closed: TensorSubmission, BitmapSubmission,
// FileSubmission, BatchSubmission and InProgressSubmission.
type Submission interface {
	Kind() SourceKind
	Meta() SubmissionMeta
	sealed()
}

// Tensor holds float pixels in [0,1], laid out CHW (3 dims) or NCHW (4 dims)
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// GenerationResult is the output of one generation run
type GenerationResult struct {
	Images []image.Image
	Params map[string]string
}

// TensorSubmission carries a raw pixel tensor
type TensorSubmission struct {
	SubmissionMeta
	Tensor Tensor
}

// BitmapSubmission carries an already decoded image
type BitmapSubmission struct {
	SubmissionMeta
	Image image.Image
}

// FileSubmission points at an image file on disk
type FileSubmission struct {
	SubmissionMeta
	Path string
}

// BatchSubmission carries a finished generation result
type BatchSubmission struct {
	SubmissionMeta
	Result GenerationResult
}

// InProgressSubmission carries the current preview frame of a running job
type InProgressSubmission struct {
	SubmissionMeta
	Preview image.Image
	Params  map[string]string
}

func (TensorSubmission) Kind() SourceKind     { return KindTensor }
func (BitmapSubmission) Kind() SourceKind     { return KindBitmap }
func (FileSubmission) Kind() SourceKind       { return KindFile }
func (BatchSubmission) Kind() SourceKind      { return KindBatch }
func (InProgressSubmission) Kind() SourceKind { return KindInProgress }

func (TensorSubmission) sealed()     {}
func (BitmapSubmission) sealed()     {}
func (FileSubmission) sealed()       {}
func (BatchSubmission) sealed()      {}
func (InProgressSubmission) sealed() {}

// NewMeta builds submission metadata stamped with the given time
func NewMeta(createdAt time.Time, lines ...string) SubmissionMeta {
	var msg Message
	if len(lines) > 0 {
		msg = Message(lines)
	}
	return SubmissionMeta{CreatedAt: createdAt, Message: msg}
}
