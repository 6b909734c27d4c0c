package normalize

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koios/gencast/pkg/models"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestGridSize(t *testing.T) {
	testCases := []struct {
		count, cols, rows int
	}{
		{1, 1, 1},
		{2, 1, 2},
		{3, 1, 3},
		{4, 2, 2},
		{5, 2, 3},
		{8, 2, 4},
		{9, 3, 3},
		{10, 3, 4},
	}

	for _, tc := range testCases {
		cols, rows := GridSize(tc.count)
		if cols != tc.cols || rows != tc.rows {
			t.Errorf("GridSize(%d) = (%d, %d), want (%d, %d)", tc.count, cols, rows, tc.cols, tc.rows)
		}
	}
}

func TestGridEqualTiles(t *testing.T) {
	const w, h = 8, 6
	for count := 2; count <= 10; count++ {
		images := make([]image.Image, count)
		for i := range images {
			images[i] = solid(w, h, color.NRGBA{R: uint8(20 * (i + 1)), G: 10, B: 200, A: 0xff})
		}

		out := Grid(images)
		cols, rows := GridSize(count)
		if got, want := out.Bounds().Size(), image.Pt(cols*w, rows*h); got != want {
			t.Fatalf("count %d: canvas = %v, want %v", count, got, want)
		}

		for i := range images {
			x, y := (i%cols)*w, (i/cols)*h
			want := images[i].At(0, 0)
			if got := color.NRGBAModel.Convert(out.At(x, y)); got != want {
				t.Errorf("count %d: tile %d at (%d,%d) = %v, want %v", count, i, x, y, got, want)
			}
			if got := color.NRGBAModel.Convert(out.At(x+w-1, y+h-1)); got != want {
				t.Errorf("count %d: tile %d bottom-right = %v, want %v", count, i, got, want)
			}
		}
	}
}

func TestGridSingleImageUntouched(t *testing.T) {
	img := solid(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff})
	out := Grid([]image.Image{img})
	if out != image.Image(img) {
		t.Fatal("single image should be returned as is")
	}
}

func TestGridMixedSizesAreNotScaled(t *testing.T) {
	big := solid(10, 10, color.NRGBA{R: 255, A: 0xff})
	small := solid(4, 4, color.NRGBA{G: 255, A: 0xff})

	out := Grid([]image.Image{big, small})
	// 2 images: 1 column, 2 rows of 10x10 cells
	if got := out.Bounds().Size(); got != image.Pt(10, 20) {
		t.Fatalf("canvas = %v, want 10x20", got)
	}
	if got := color.NRGBAModel.Convert(out.At(3, 13)); got != (color.NRGBA{G: 255, A: 0xff}) {
		t.Errorf("small tile pixel = %v", got)
	}
	// Padding right of the small tile stays black
	if got := color.NRGBAModel.Convert(out.At(8, 18)); got != (color.NRGBA{A: 0xff}) {
		t.Errorf("padding pixel = %v, want black", got)
	}
}

func TestNormalizeTensor(t *testing.T) {
	meta := models.NewMeta(time.Now())

	t.Run("3 dims", func(t *testing.T) {
		// 3x1x2 CHW: pixel 0 red, pixel 1 blue
		tensor := models.Tensor{
			Shape: []int{3, 1, 2},
			Data:  []float32{1, 0, 0, 0, 0, 1},
		}
		res, err := Normalize(models.TensorSubmission{SubmissionMeta: meta, Tensor: tensor})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if res.Prefix != "torch_to_pil_" {
			t.Errorf("prefix = %q", res.Prefix)
		}
		if got := color.NRGBAModel.Convert(res.Image.At(0, 0)); got != (color.NRGBA{R: 255, A: 255}) {
			t.Errorf("pixel 0 = %v, want red", got)
		}
		if got := color.NRGBAModel.Convert(res.Image.At(1, 0)); got != (color.NRGBA{B: 255, A: 255}) {
			t.Errorf("pixel 1 = %v, want blue", got)
		}
	})

	t.Run("4 dims grids every slice", func(t *testing.T) {
		data := make([]float32, 4*3*2*2)
		res, err := Normalize(models.TensorSubmission{
			SubmissionMeta: meta,
			Tensor:         models.Tensor{Shape: []int{4, 3, 2, 2}, Data: data},
		})
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		if got := res.Image.Bounds().Size(); got != image.Pt(4, 4) {
			t.Errorf("grid size = %v, want 4x4", got)
		}
	})

	t.Run("bad shape", func(t *testing.T) {
		_, err := Normalize(models.TensorSubmission{
			SubmissionMeta: meta,
			Tensor:         models.Tensor{Shape: []int{2, 2}, Data: make([]float32, 4)},
		})
		if !errors.Is(err, ErrDecode) {
			t.Errorf("expected ErrDecode, got %v", err)
		}
	})

	t.Run("data length mismatch", func(t *testing.T) {
		_, err := Normalize(models.TensorSubmission{
			SubmissionMeta: meta,
			Tensor:         models.Tensor{Shape: []int{3, 2, 2}, Data: make([]float32, 5)},
		})
		if !errors.Is(err, ErrDecode) {
			t.Errorf("expected ErrDecode, got %v", err)
		}
	})
}

func TestNormalizeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := png.Encode(f, solid(7, 3, color.NRGBA{R: 9, A: 255})); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	f.Close()

	res, err := Normalize(models.FileSubmission{SubmissionMeta: models.NewMeta(time.Now()), Path: path})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if res.Prefix != "from_file_" {
		t.Errorf("prefix = %q", res.Prefix)
	}
	if got := res.Image.Bounds().Size(); got != image.Pt(7, 3) {
		t.Errorf("size = %v", got)
	}

	_, err = Normalize(models.FileSubmission{Path: filepath.Join(dir, "missing.png")})
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for missing file, got %v", err)
	}
}

func TestNormalizeBatchAndInProgress(t *testing.T) {
	meta := models.NewMeta(time.Now(), "hello")
	params := map[string]string{"Steps": "20", "Prompt": "a cat\non a mat"}

	res, err := Normalize(models.BatchSubmission{
		SubmissionMeta: meta,
		Result: models.GenerationResult{
			Images: []image.Image{solid(4, 4, color.NRGBA{A: 255}), solid(4, 4, color.NRGBA{A: 255})},
			Params: params,
		},
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if res.Prefix != "sd_processed_" {
		t.Errorf("prefix = %q", res.Prefix)
	}
	if got := res.Image.Bounds().Size(); got != image.Pt(4, 8) {
		t.Errorf("batch grid = %v, want 4x8", got)
	}
	if len(res.Extra) != 3 {
		t.Errorf("extra lines = %q, want 3 lines", res.Extra)
	}

	preview := solid(6, 6, color.NRGBA{A: 255})
	res, err = Normalize(models.InProgressSubmission{SubmissionMeta: meta, Preview: preview})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if res.Prefix != "sd_processing_" {
		t.Errorf("prefix = %q", res.Prefix)
	}
	if res.Image != image.Image(preview) {
		t.Error("in progress preview should pass through as a batch of one")
	}

	_, err = Normalize(models.InProgressSubmission{SubmissionMeta: meta})
	if !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode without preview, got %v", err)
	}
}

func TestParamLines(t *testing.T) {
	lines := ParamLines(map[string]string{
		"Steps":  "20",
		"Prompt": "first\nsecond",
	})

	want := []string{
		"Prompt               : first",
		"                     | second",
		"Steps                : 20",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}

	if ParamLines(nil) != nil {
		t.Error("nil params should give no lines")
	}
}
