package upload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadCompletesAfterLastChunkOnly(t *testing.T) {
	// Sizes around multiples of the chunk size, including a single short chunk.
	for _, size := range []int{1, 7, 8, 9, 15, 16, 17, 40} {
		opts := newTestOptions(t, 8)
		slots, receiver := newTestReceiver(opts)

		data := bytes.Repeat([]byte{'x'}, size)
		slot, err := slots.CreateSlot(1, int64(size), FileTypeResource, "a.zip")
		require.NoError(t, err)

		expected := ChunkCount(int64(size), 8)
		for i := 0; i < expected-1; i++ {
			index := i
			chunk := data[i*8 : (i+1)*8]
			result, err := receiver.UploadChunk(context.Background(), 1, slot.ID, &index, bytes.NewReader(chunk))
			require.NoError(t, err)
			require.False(t, result.Completed, "size %d completed after chunk %d", size, i)
			require.Empty(t, result.Token)

			loaded, err := slots.GetSlot(1, slot.ID)
			require.NoError(t, err)
			require.False(t, loaded.IsFileUploadCompleted())
			require.Equal(t, i+1, loaded.ChunksReceived)
		}

		// The last chunk completes the slot; the bytes aren't a zip so validation rejects it.
		index := expected - 1
		_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, &index, bytes.NewReader(data[index*8:]))
		require.ErrorIs(t, err, ErrInvalidResource, "size %d", size)
	}
}

func TestUploadValidResource(t *testing.T) {
	opts := newTestOptions(t, 64)
	slots, receiver := newTestReceiver(opts)

	data := makeZip(t, map[string]string{"mod.json": `{"name":"trees"}`, "textures/bark.txt": "bark"})
	slot, err := slots.CreateSlot(1, int64(len(data)), FileTypeResource, "trees.zip")
	require.NoError(t, err)
	require.Greater(t, slot.ChunksExpected, 1)

	result, err := uploadAll(t, receiver, slot, data)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, slot.ID, result.Token)
	assert.Equal(t, FileTypeResource, result.FileType)

	loaded, err := slots.GetSlot(1, slot.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Validated)
	assert.Equal(t, int64(len(data)), loaded.BytesReceived)

	stored, err := os.ReadFile(loaded.DataPath())
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestChunkAfterCompletionIsRejected(t *testing.T) {
	opts := newTestOptions(t, 64)
	slots, receiver := newTestReceiver(opts)

	data := makeZip(t, map[string]string{"a.txt": "a"})
	slot, err := slots.CreateSlot(1, int64(len(data)), FileTypeResource, "a.zip")
	require.NoError(t, err)

	_, err = uploadAll(t, receiver, slot, data)
	require.NoError(t, err)

	for _, chunk := range [][]byte{{}, {1}, bytes.Repeat([]byte{2}, 64)} {
		_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader(chunk))
		require.ErrorIs(t, err, ErrSlotCompleted)
	}

	loaded, err := slots.GetSlot(1, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, slot.ChunksExpected, loaded.ChunksReceived)
	assert.Equal(t, int64(len(data)), loaded.BytesReceived)
}

func TestInvalidResourceDeletesSlot(t *testing.T) {
	opts := newTestOptions(t, 16)
	slots, receiver := newTestReceiver(opts)

	data := bytes.Repeat([]byte("not a zip "), 5)
	slot, err := slots.CreateSlot(1, int64(len(data)), FileTypeResource, "broken.zip")
	require.NoError(t, err)

	_, err = uploadAll(t, receiver, slot, data)
	require.ErrorIs(t, err, ErrInvalidResource)
	require.Equal(t, KindContent, KindOf(err))

	_, err = os.Stat(slot.DataPath())
	require.True(t, os.IsNotExist(err))

	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("more")))
	require.ErrorIs(t, err, ErrSlotNotFound)
}

func TestInvalidImageAndBackground(t *testing.T) {
	opts := newTestOptions(t, 16)
	slots, receiver := newTestReceiver(opts)

	data := []byte("definitely not an image at all")

	image, err := slots.CreateSlot(1, int64(len(data)), FileTypeImage, "shot.png")
	require.NoError(t, err)
	_, err = uploadAll(t, receiver, image, data)
	require.ErrorIs(t, err, ErrInvalidImage)

	background, err := slots.CreateSlot(1, int64(len(data)), FileTypeBackground, "bg.png")
	require.NoError(t, err)
	_, err = uploadAll(t, receiver, background, data)
	require.ErrorIs(t, err, ErrInvalidBackground)
}

func TestChunkRejectionsDontMutate(t *testing.T) {
	opts := newTestOptions(t, 4)
	slots, receiver := newTestReceiver(opts)

	slot, err := slots.CreateSlot(1, 10, FileTypeResource, "a.zip")
	require.NoError(t, err)

	tests := []struct {
		name  string
		index *int
		chunk []byte
		err   error
	}{
		{"too large", nil, []byte("12345"), ErrChunkTooLarge},
		{"out of order", intPtr(1), []byte("1234"), ErrChunkOutOfOrder},
		{"empty", nil, []byte{}, ErrInvalidSize},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := receiver.UploadChunk(context.Background(), 1, slot.ID, test.index, bytes.NewReader(test.chunk))
			require.ErrorIs(t, err, test.err)
			require.Equal(t, KindProtocol, KindOf(err))

			loaded, err := slots.GetSlot(1, slot.ID)
			require.NoError(t, err)
			require.Equal(t, 0, loaded.ChunksReceived)
			require.Equal(t, int64(0), loaded.BytesReceived)
		})
	}

	// Two full chunks leave two bytes; a third full chunk would overshoot the declared size.
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("1234")))
	require.NoError(t, err)
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("5678")))
	require.NoError(t, err)
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("9abc")))
	require.ErrorIs(t, err, ErrSizeMismatch)

	loaded, err := slots.GetSlot(1, slot.ID)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.ChunksReceived)
	require.Equal(t, int64(8), loaded.BytesReceived)
}

func TestShortChunkCompletesWithSizeMismatch(t *testing.T) {
	opts := newTestOptions(t, 4)
	slots, receiver := newTestReceiver(opts)

	slot, err := slots.CreateSlot(1, 8, FileTypeResource, "a.zip")
	require.NoError(t, err)

	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("12")))
	require.NoError(t, err)
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("34")))
	require.ErrorIs(t, err, ErrSizeMismatch)

	_, err = slots.GetSlot(1, slot.ID)
	require.ErrorIs(t, err, ErrSlotNotFound)
}

func TestChunkForBusySlot(t *testing.T) {
	opts := newTestOptions(t, 4)
	slots, receiver := newTestReceiver(opts)

	slot, err := slots.CreateSlot(1, 8, FileTypeResource, "a.zip")
	require.NoError(t, err)

	require.True(t, receiver.acquire(slot.ID))
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("1234")))
	require.ErrorIs(t, err, ErrSlotBusy)
	receiver.release(slot.ID)

	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("1234")))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(opts.ModTempDir(1), slot.ID+".lock"))
	require.True(t, os.IsNotExist(err), "file lock should be released")
}

func TestChunkForSlotLockedByOtherProcess(t *testing.T) {
	opts := newTestOptions(t, 4)
	slots, receiver := newTestReceiver(opts)
	receiver.lockWait = 200 * time.Millisecond

	slot, err := slots.CreateSlot(1, 8, FileTypeResource, "a.zip")
	require.NoError(t, err)

	// The parent process is alive and isn't us, so the lock counts as held elsewhere.
	lockPath := filepath.Join(opts.ModTempDir(1), slot.ID+".lock")
	require.NoError(t, os.WriteFile(lockPath, []byte(strconv.Itoa(os.Getppid())+"\n"), 0644))

	start := time.Now()
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("1234")))
	require.ErrorIs(t, err, ErrSlotBusy)
	require.Equal(t, KindProtocol, KindOf(err))
	require.Less(t, time.Since(start), 5*time.Second)

	loaded, err := slots.GetSlot(1, slot.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), loaded.BytesReceived)

	require.NoError(t, os.Remove(lockPath))
	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, nil, bytes.NewReader([]byte("1234")))
	require.NoError(t, err)
}

func TestRepeatedChunkIsAcknowledged(t *testing.T) {
	opts := newTestOptions(t, 64)
	slots, receiver := newTestReceiver(opts)

	data := makeZip(t, map[string]string{"a.txt": "some content for a few chunks"})
	slot, err := slots.CreateSlot(1, int64(len(data)), FileTypeResource, "a.zip")
	require.NoError(t, err)
	require.Greater(t, slot.ChunksExpected, 1)

	result, err := receiver.UploadChunk(context.Background(), 1, slot.ID, intPtr(0), bytes.NewReader(data[:64]))
	require.NoError(t, err)
	require.False(t, result.Completed)

	// The response to chunk 0 got lost and the client sends it again.
	result, err = receiver.UploadChunk(context.Background(), 1, slot.ID, intPtr(0), bytes.NewReader(data[:64]))
	require.NoError(t, err)
	require.False(t, result.Completed)

	_, err = receiver.UploadChunk(context.Background(), 1, slot.ID, intPtr(0), bytes.NewReader(data[:10]))
	require.ErrorIs(t, err, ErrChunkOutOfOrder)

	loaded, err := slots.GetSlot(1, slot.ID)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.ChunksReceived)
	require.Equal(t, int64(64), loaded.BytesReceived)

	var last []byte
	for i, offset := 1, 64; offset < len(data); i++ {
		end := offset + 64
		if end > len(data) {
			end = len(data)
		}
		last = data[offset:end]
		result, err = receiver.UploadChunk(context.Background(), 1, slot.ID, intPtr(i), bytes.NewReader(last))
		require.NoError(t, err)
		offset = end
	}
	require.True(t, result.Completed)

	result, err = receiver.UploadChunk(context.Background(), 1, slot.ID, intPtr(slot.ChunksExpected-1), bytes.NewReader(last))
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, slot.ID, result.Token)

	stored, err := os.ReadFile(slot.DataPath())
	require.NoError(t, err)
	require.Equal(t, data, stored)
}

func TestChunkDelayEndsWithContext(t *testing.T) {
	opts := newTestOptions(t, 4)
	opts.ChunkDelay = time.Hour
	slots, receiver := newTestReceiver(opts)

	slot, err := slots.CreateSlot(1, 8, FileTypeResource, "a.zip")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = receiver.UploadChunk(ctx, 1, slot.ID, nil, bytes.NewReader([]byte("1234")))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}

func intPtr(i int) *int {
	return &i
}
