// Package normalize turns any submission representation into a single bitmap,
// gridding multi image batches and flattening embedded generation parameters
// into caption lines.
package normalize

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/koios/gencast/pkg/models"
	_ "golang.org/x/image/webp"
)

// ErrDecode is returned when a submission payload cannot be interpreted
var ErrDecode = errors.New("decode error")

// Result is one normalized submission
type Result struct {
	Image  image.Image
	Prefix string   // temp file prefix for the artifact
	Extra  []string // caption lines derived from embedded metadata
}

// Normalize converts a submission into one bitmap
func Normalize(sub models.Submission) (*Result, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: nil submission", ErrDecode)
	}

	res := &Result{Prefix: sub.Kind().FilePrefix()}

	switch s := sub.(type) {
	case models.TensorSubmission:
		img, err := fromTensor(s.Tensor)
		if err != nil {
			return nil, err
		}
		res.Image = img
	case models.BitmapSubmission:
		if s.Image == nil {
			return nil, fmt.Errorf("%w: bitmap submission without image", ErrDecode)
		}
		res.Image = s.Image
	case models.FileSubmission:
		img, err := imaging.Open(s.Path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open %s: %v", ErrDecode, s.Path, err)
		}
		res.Image = img
	case models.BatchSubmission:
		img, err := gridNonEmpty(s.Result.Images)
		if err != nil {
			return nil, err
		}
		res.Image = img
		res.Extra = ParamLines(s.Result.Params)
	case models.InProgressSubmission:
		img, err := gridNonEmpty([]image.Image{s.Preview})
		if err != nil {
			return nil, err
		}
		res.Image = img
		res.Extra = ParamLines(s.Params)
	default:
		return nil, fmt.Errorf("%w: unsupported submission type %T", ErrDecode, sub)
	}

	return res, nil
}

func gridNonEmpty(images []image.Image) (image.Image, error) {
	tiles := make([]image.Image, 0, len(images))
	for _, img := range images {
		if img != nil {
			tiles = append(tiles, img)
		}
	}
	if len(tiles) == 0 {
		return nil, fmt.Errorf("%w: no image available", ErrDecode)
	}
	return Grid(tiles), nil
}

const paramKeyWidth = 20

// ParamLines flattens key/value metadata into caption lines. Keys are sorted;
// a multi line value keeps its first line next to the key and the rest are
// indented under a padding marker.
func ParamLines(params map[string]string) []string {
	if len(params) == 0 {
		return nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		valueLines := strings.Split(strings.TrimRight(params[k], "\n"), "\n")
		lines = append(lines, fmt.Sprintf("%-*s : %s", paramKeyWidth, k, valueLines[0]))
		for _, cont := range valueLines[1:] {
			lines = append(lines, fmt.Sprintf("%-*s | %s", paramKeyWidth, "", cont))
		}
	}
	return lines
}
