package normalize

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// GridSize returns the column and row count used to lay out count tiles
func GridSize(count int) (cols, rows int) {
	if count <= 0 {
		return 0, 0
	}
	cols = int(math.Floor(math.Sqrt(float64(count))))
	rows = (count + cols - 1) / cols
	return cols, rows
}

// Grid pastes the images into a grid. A single image is returned untouched.
// Tiles are not rescaled: each sits top-left aligned in a cell as large as the
// biggest tile, and any remaining area stays black.
func Grid(images []image.Image) image.Image {
	switch len(images) {
	case 0:
		return nil
	case 1:
		return images[0]
	}

	cols, rows := GridSize(len(images))

	var maxW, maxH int
	for _, img := range images {
		b := img.Bounds()
		if b.Dx() > maxW {
			maxW = b.Dx()
		}
		if b.Dy() > maxH {
			maxH = b.Dy()
		}
	}

	canvas := imaging.New(cols*maxW, rows*maxH, color.NRGBA{A: 0xff})
	for i, img := range images {
		pos := image.Pt((i%cols)*maxW, (i/cols)*maxH)
		canvas = imaging.Paste(canvas, img, pos)
	}
	return canvas
}
