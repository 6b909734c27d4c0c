// Package compose annotates an image with a caption panel and letterboxes it
// to the receiver's display aspect ratio.
package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
)

const (
	fontHeightRatio = 0.03
	lineSpacing     = 3
	panelOffset     = 2
	textInset       = 3
	dateLayout      = "2006-01-02 15:04:05"
)

// Layout is the computed geometry of one composited frame
type Layout struct {
	FontSize int
	Advance  float64
	Lines    []string // wrapped display lines, date line first
	Width    int      // canvas width
	Height   int      // canvas height
	Left     int      // border on each side of the source image
	Bottom   int      // caption area below the source image
}

// Compositor renders captions below images
type Compositor struct {
	fontPath string
	ratio    float64
	now      func() time.Time
	logger   *zap.Logger
}

// NewCompositor creates a compositor. An empty fontPath selects the bitmap font.
func NewCompositor(fontPath string, logger *zap.Logger) *Compositor {
	return &Compositor{
		fontPath: fontPath,
		ratio:    DisplayRatio,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the wall clock used for the elapsed time caption
func (c *Compositor) SetClock(now func() time.Time) {
	c.now = now
}

// DateLine formats the creation date and the time elapsed since then, both
// truncated to whole seconds
func DateLine(createdAt, now time.Time) string {
	created := createdAt.Truncate(time.Second)
	elapsed := now.Sub(createdAt).Truncate(time.Second)
	return fmt.Sprintf("%s (%s)", created.Format(dateLayout), FormatElapsed(elapsed))
}

// FormatElapsed renders a duration as H:MM:SS, prefixed with a day count when
// it spans more than a day
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	clock := fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	switch {
	case days == 1:
		return "1 day, " + clock
	case days > 1:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
	return clock
}

// FontSize returns the caption font size for an image of the given height
func FontSize(height int) int {
	size := int(float64(height) * fontHeightRatio)
	if size < 1 {
		size = 1
	}
	return size
}

// PlanLayout computes the canvas and wrapped caption lines for a width x height
// image. captions must already include the date line.
func PlanLayout(width, height, fontSize int, advance float64, captions []string, ratio float64) Layout {
	if advance <= 0 {
		advance = 1
	}

	// First pass: estimate the wrap width from a slack widened image
	estWidth, _ := AspectFit(width+fontSize*(len(captions)+2), height, ratio)
	lines := WrapAll(captions, int(float64(estWidth)/advance))

	finalHeight := height + (len(lines)+1)*(fontSize+lineSpacing)
	finalWidth := int(float64(finalHeight) * ratio)
	if finalWidth < width {
		// Wide sources grow the caption area instead of getting cropped
		finalWidth = width
		finalHeight = int(float64(width) / ratio)
	}

	left := (finalWidth - width) / 2
	bottom := finalHeight - height

	// Wrap again against the real canvas width
	lines = WrapAll(captions, int(float64(finalWidth)/advance))

	return Layout{
		FontSize: fontSize,
		Advance:  advance,
		Lines:    lines,
		Width:    width + 2*left,
		Height:   height + bottom,
		Left:     left,
		Bottom:   bottom,
	}
}

// Compose returns a letterboxed copy of img with the caption panel drawn below
// it. The date line is prepended to captions.
func (c *Compositor) Compose(img image.Image, createdAt time.Time, captions []string) (*image.RGBA, Layout, error) {
	if img == nil {
		return nil, Layout{}, fmt.Errorf("no image to compose")
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, Layout{}, fmt.Errorf("cannot compose empty image %v", bounds)
	}

	all := make([]string, 0, len(captions)+1)
	all = append(all, DateLine(createdAt, c.now()))
	all = append(all, captions...)

	size := FontSize(bounds.Dy())
	f, err := LoadFont(c.fontPath, size)
	if err != nil {
		c.logger.Debug("Falling back to bitmap font",
			zap.String("font_path", c.fontPath),
			zap.Error(err))
	}

	layout := PlanLayout(bounds.Dx(), bounds.Dy(), size, f.Advance, all, c.ratio)

	canvas := image.NewRGBA(image.Rect(0, 0, layout.Width, layout.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	dst := image.Rect(layout.Left, 0, layout.Left+bounds.Dx(), bounds.Dy())
	draw.Draw(canvas, dst, img, bounds.Min, draw.Src)

	step := float64(size + lineSpacing)
	top := float64(bounds.Dy() + panelOffset)
	panelHeight := float64(len(layout.Lines)) * step
	if maxHeight := float64(layout.Height-1) - top; panelHeight > maxHeight {
		panelHeight = maxHeight
	}

	dc := gg.NewContextForRGBA(canvas)
	dc.SetColor(color.White)
	if panelHeight > 0 {
		dc.SetLineWidth(1)
		dc.DrawRectangle(0.5, top+0.5, float64(layout.Width-1), panelHeight)
		dc.Stroke()
	}

	dc.SetFontFace(f.Face)
	y := top + 1
	for _, line := range layout.Lines {
		dc.DrawStringAnchored(line, textInset, y, 0, 1)
		y += step
	}

	return canvas, layout, nil
}
