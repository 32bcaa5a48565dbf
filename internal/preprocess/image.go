package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidInput      = errors.New("invalid input")
)

var AllowedExtensions = []string{"jpg", "jpeg", "png"}

func CheckExtension(filename string) error {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, filepath.Ext(filename), strings.Join(AllowedExtensions, ", "))
}

// DecodeImage decodes a JPEG or PNG, applies any EXIF orientation and
// returns it as opaque RGB. Alpha is dropped, not composited: a transparent
// pixel keeps its stored color.
func DecodeImage(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	return rgb, nil
}

// ImageTensor resizes img to width x height, scales channels to [0,1] and
// flattens it with a leading batch dimension of one. channelsFirst selects
// NCHW, otherwise NHWC.
func ImageTensor(img image.Image, width, height int, channelsFirst bool) []float32 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bicubic)
	bounds := resized.Bounds()

	const channels = 3
	plane := width * height
	data := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r := float32(px.R) / 255.0
			g := float32(px.G) / 255.0
			b := float32(px.B) / 255.0

			idx := y*width + x
			if channelsFirst {
				data[idx] = r
				data[plane+idx] = g
				data[2*plane+idx] = b
			} else {
				data[idx*channels] = r
				data[idx*channels+1] = g
				data[idx*channels+2] = b
			}
		}
	}

	return data
}
