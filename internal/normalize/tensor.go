package normalize

import (
	"fmt"
	"image"
	"image/color"

	"github.com/koios/gencast/pkg/models"
)

// fromTensor converts a CHW tensor into one image, or an NCHW batch into a grid
func fromTensor(t models.Tensor) (image.Image, error) {
	switch len(t.Shape) {
	case 3:
		return tensorToImage(t.Shape[0], t.Shape[1], t.Shape[2], t.Data)
	case 4:
		n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
		if n <= 0 {
			return nil, fmt.Errorf("%w: empty tensor batch", ErrDecode)
		}
		plane := c * h * w
		if len(t.Data) != n*plane {
			return nil, fmt.Errorf("%w: tensor data length %d does not match shape %v", ErrDecode, len(t.Data), t.Shape)
		}
		images := make([]image.Image, 0, n)
		for i := 0; i < n; i++ {
			img, err := tensorToImage(c, h, w, t.Data[i*plane:(i+1)*plane])
			if err != nil {
				return nil, fmt.Errorf("batch slice %d: %w", i, err)
			}
			images = append(images, img)
		}
		return Grid(images), nil
	default:
		return nil, fmt.Errorf("%w: tensor must have 3 or 4 dimensions, got %d", ErrDecode, len(t.Shape))
	}
}

// tensorToImage converts one CHW plane set with 1, 3 or 4 channels
func tensorToImage(c, h, w int, data []float32) (image.Image, error) {
	if c != 1 && c != 3 && c != 4 {
		return nil, fmt.Errorf("%w: unsupported channel count %d", ErrDecode, c)
	}
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("%w: invalid tensor size %dx%d", ErrDecode, w, h)
	}
	if len(data) != c*h*w {
		return nil, fmt.Errorf("%w: tensor data length %d does not match %dx%dx%d", ErrDecode, len(data), c, h, w)
	}

	plane := h * w
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			px := color.NRGBA{A: 0xff}
			switch c {
			case 1:
				v := toByte(data[i])
				px.R, px.G, px.B = v, v, v
			default:
				px.R = toByte(data[i])
				px.G = toByte(data[plane+i])
				px.B = toByte(data[2*plane+i])
				if c == 4 {
					px.A = toByte(data[3*plane+i])
				}
			}
			img.SetNRGBA(x, y, px)
		}
	}
	return img, nil
}

func toByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}
