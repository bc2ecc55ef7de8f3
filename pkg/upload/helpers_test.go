package upload

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-units"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/stretchr/testify/require"
)

func newTestOptions(t *testing.T, chunkSize int64) *StorageOptions {
	t.Helper()

	root := t.TempDir()
	opts := &StorageOptions{
		StorageDir:      filepath.Join(root, "storage"),
		TempDir:         filepath.Join(root, "tmp"),
		CacheDir:        filepath.Join(root, "cache"),
		DirMode:         0755,
		MaxImageSize:    8 * units.MiB,
		MaxResourceSize: 256 * units.MiB,
		MaxImagePixels:  40_000_000,
		UserQuota:       100 * units.MiB,
		ModQuota:        50 * units.MiB,
		MinFreeSpace:    10 * units.MiB,
		ChunkSize:       chunkSize,
		SlotRetention:   24 * time.Hour,
	}
	require.NoError(t, opts.CreateDirs())

	return opts
}

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 5), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

// uploadAll sends data to the slot in ChunkSize pieces and returns the last result.
func uploadAll(t *testing.T, receiver *ChunkReceiver, slot *Slot, data []byte) (*ChunkResult, error) {
	t.Helper()

	var (
		result *ChunkResult
		err    error
	)

	for i, offset := 0, 0; offset < len(data); i++ {
		end := offset + int(slot.ChunkSize)
		if end > len(data) {
			end = len(data)
		}

		index := i
		result, err = receiver.UploadChunk(context.Background(), slot.ModID, slot.ID, &index, bytes.NewReader(data[offset:end]))
		if err != nil {
			return nil, err
		}
		offset = end
	}

	return result, nil
}

func newTestReceiver(opts *StorageOptions) (*SlotRegistry, *ChunkReceiver) {
	slots := NewSlotRegistry(opts, clog.Discard())
	return slots, NewChunkReceiver(opts, slots, NewContentValidator(opts.MaxImagePixels), clog.Discard())
}
