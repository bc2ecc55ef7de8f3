package upload

import (
	"image"
	"image/color"
	"image/png"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// MaxBackgroundWidth is the widest background that is stored; wider images are scaled down.
const MaxBackgroundWidth = 2560

// The gradient darkens from transparent at the top to backgroundShadeAlpha at the bottom.
const backgroundShadeAlpha = 176

// ProcessBackground decodes a background image, composites it with the fixed gradient and writes
// the result as PNG. Only pixel data survives, so any metadata in the upload is dropped. The output
// only depends on the decoded pixels.
func ProcessBackground(r io.Reader, w io.Writer) error {
	src, _, err := image.Decode(r)
	if err != nil {
		return errors.Wrapf(ErrInvalidBackground, "%s", err)
	}

	bounds := backgroundBounds(src.Bounds())
	dst := image.NewRGBA(bounds)

	if bounds.Dx() == src.Bounds().Dx() {
		draw.Draw(dst, bounds, src, src.Bounds().Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, bounds, src, src.Bounds(), draw.Src, nil)
	}

	drawGradient(dst)

	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, dst)
}

func backgroundBounds(b image.Rectangle) image.Rectangle {
	width, height := b.Dx(), b.Dy()
	if width > MaxBackgroundWidth {
		height = height * MaxBackgroundWidth / width
		width = MaxBackgroundWidth
		if height < 1 {
			height = 1
		}
	}

	return image.Rect(0, 0, width, height)
}

func drawGradient(dst *image.RGBA) {
	b := dst.Bounds()
	height := b.Dy()

	for y := b.Min.Y; y < b.Max.Y; y++ {
		alpha := uint8(0)
		if height > 1 {
			alpha = uint8(backgroundShadeAlpha * (y - b.Min.Y) / (height - 1))
		}

		row := image.Rect(b.Min.X, y, b.Max.X, y+1)
		draw.Draw(dst, row, image.NewUniform(color.NRGBA{A: alpha}), image.Point{}, draw.Over)
	}
}
