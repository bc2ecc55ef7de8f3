package upload

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessBackgroundGradient(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 11))
	for y := 0; y < 11; y++ {
		for x := 0; x < 4; x++ {
			src.Set(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	var in, out bytes.Buffer
	require.NoError(t, png.Encode(&in, src))
	require.NoError(t, ProcessBackground(&in, &out))

	img, err := png.Decode(&out)
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), img.Bounds())

	top, _, _, _ := img.At(0, 0).RGBA()
	middle, _, _, _ := img.At(0, 5).RGBA()
	bottom, _, _, _ := img.At(0, 10).RGBA()

	assert.Equal(t, uint32(0xffff), top, "the top row is untouched")
	assert.Less(t, middle, top)
	assert.Less(t, bottom, middle)
}

func TestProcessBackgroundScalesWideImages(t *testing.T) {
	var in, out bytes.Buffer
	require.NoError(t, png.Encode(&in, image.NewRGBA(image.Rect(0, 0, MaxBackgroundWidth*2, 10))))
	require.NoError(t, ProcessBackground(&in, &out))

	cfg, err := png.DecodeConfig(&out)
	require.NoError(t, err)
	assert.Equal(t, MaxBackgroundWidth, cfg.Width)
	assert.Equal(t, 5, cfg.Height)
}

func TestProcessBackgroundRejectsGarbage(t *testing.T) {
	var out bytes.Buffer
	err := ProcessBackground(bytes.NewReader([]byte("nope")), &out)
	require.ErrorIs(t, err, ErrInvalidBackground)
}
