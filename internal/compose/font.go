package compose

import (
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// fallbackAdvanceRatio approximates the bitmap font advance as a share of the
// requested size
const fallbackAdvanceRatio = 0.4

const advanceSample = " !\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// Font is a face plus the average character advance used for wrapping
type Font struct {
	Face     font.Face
	Size     int
	Advance  float64
	Fallback bool
}

// LoadFont loads the monospaced font at path with the given pixel size. Any
// failure, including an empty path, falls back to the built in bitmap font.
func LoadFont(path string, size int) (*Font, error) {
	if path != "" {
		face, err := gg.LoadFontFace(path, float64(size))
		if err == nil {
			return &Font{Face: face, Size: size, Advance: averageAdvance(face, size)}, nil
		}
		return fallbackFont(size), err
	}
	return fallbackFont(size), nil
}

func fallbackFont(size int) *Font {
	return &Font{
		Face:     basicfont.Face7x13,
		Size:     size,
		Advance:  float64(size) * fallbackAdvanceRatio,
		Fallback: true,
	}
}

func averageAdvance(face font.Face, size int) float64 {
	adv := font.MeasureString(face, advanceSample)
	avg := float64(adv) / 64 / float64(len(advanceSample))
	if avg <= 0 {
		return float64(size) * fallbackAdvanceRatio
	}
	return avg
}
