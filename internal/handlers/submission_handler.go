package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

// ErrInvalidRequest marks a submission payload that can never succeed
var ErrInvalidRequest = errors.New("invalid submission request")

// Submitter accepts decoded submissions
type Submitter interface {
	Submit(sub models.Submission) bool
}

// SubmissionHandler converts wire submissions into pipeline submissions. It is
// shared by the HTTP, AMQP and Redis ingress paths.
type SubmissionHandler struct {
	submitter Submitter
	logger    *zap.Logger
	now       func() time.Time
}

// NewSubmissionHandler creates a handler forwarding to submitter
func NewSubmissionHandler(submitter Submitter, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
}

// Handle decodes request and submits it. Dropping for lack of a session is
// not an error; the result reports whether it was queued.
func (h *SubmissionHandler) Handle(ctx context.Context, request *models.SubmissionRequest) (bool, error) {
	sub, err := h.Decode(request)
	if err != nil {
		h.logger.Warn("Rejected submission",
			zap.String("type", requestType(request)),
			zap.Error(err))
		return false, err
	}

	queued := h.submitter.Submit(sub)
	h.logger.Debug("Submission received",
		zap.String("kind", sub.Kind().String()),
		zap.Bool("queued", queued))
	return queued, nil
}

// Decode converts a wire request into a submission
func (h *SubmissionHandler) Decode(request *models.SubmissionRequest) (models.Submission, error) {
	if request == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}

	createdAt := h.now()
	if request.CreatedAt != nil && !request.CreatedAt.IsZero() {
		createdAt = *request.CreatedAt
	}
	meta := models.SubmissionMeta{CreatedAt: createdAt, Message: request.Message}

	switch request.Type {
	case models.RequestTypeTensor:
		if request.Tensor == nil {
			return nil, fmt.Errorf("%w: tensor is required", ErrInvalidRequest)
		}
		return models.TensorSubmission{SubmissionMeta: meta, Tensor: *request.Tensor}, nil

	case models.RequestTypeImage:
		img, err := decodeImage(request.Image)
		if err != nil {
			return nil, err
		}
		return models.BitmapSubmission{SubmissionMeta: meta, Image: img}, nil

	case models.RequestTypeFile:
		if request.Path == "" {
			return nil, fmt.Errorf("%w: path is required", ErrInvalidRequest)
		}
		return models.FileSubmission{SubmissionMeta: meta, Path: request.Path}, nil

	case models.RequestTypeBatch:
		if len(request.Images) == 0 {
			return nil, fmt.Errorf("%w: images are required", ErrInvalidRequest)
		}
		images := make([]image.Image, 0, len(request.Images))
		for i, encoded := range request.Images {
			img, err := decodeImage(encoded)
			if err != nil {
				return nil, fmt.Errorf("image %d: %w", i, err)
			}
			images = append(images, img)
		}
		return models.BatchSubmission{
			SubmissionMeta: meta,
			Result:         models.GenerationResult{Images: images, Params: request.Params},
		}, nil

	case models.RequestTypeInProgress:
		img, err := decodeImage(request.Image)
		if err != nil {
			return nil, err
		}
		return models.InProgressSubmission{SubmissionMeta: meta, Preview: img, Params: request.Params}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, request.Type)
	}
}

func decodeImage(encoded string) (image.Image, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: image is required", ErrInvalidRequest)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64: %v", ErrInvalidRequest, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", ErrInvalidRequest, err)
	}
	return img, nil
}

func requestType(request *models.SubmissionRequest) string {
	if request == nil {
		return ""
	}
	return request.Type
}
