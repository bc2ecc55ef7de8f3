package upload

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/moddb/moddbtest"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type promoterEnv struct {
	f        *moddbtest.Fixture
	opts     *StorageOptions
	slots    *SlotRegistry
	receiver *ChunkReceiver
	promoter *StoragePromoter
}

func newPromoterEnv(t *testing.T) *promoterEnv {
	f := moddbtest.NewFixture(t)
	opts := newTestOptions(t, 1024)
	slots, receiver := newTestReceiver(opts)

	return &promoterEnv{
		f:        f,
		opts:     opts,
		slots:    slots,
		receiver: receiver,
		promoter: NewStoragePromoter(opts, slots, f.Stors.ModFileStor, clog.Discard()),
	}
}

// completedSlot uploads data and returns its slot.
func (e *promoterEnv) completedSlot(t *testing.T, ft FileType, name string, data []byte) *Slot {
	slot, err := e.slots.CreateSlot(e.f.Mod.ID, int64(len(data)), ft, name)
	require.NoError(t, err)

	result, err := uploadAll(t, e.receiver, slot, data)
	require.NoError(t, err)
	require.True(t, result.Completed)

	return slot
}

func TestPromoteResourceRoundTrip(t *testing.T) {
	e := newPromoterEnv(t)
	data := makeZip(t, map[string]string{"mod.json": "{}"})
	slot := e.completedSlot(t, FileTypeResource, "Big Trees Pack.ZIP", data)

	ops := e.promoter.Begin(nil)
	modFile := &modmodel.ModFile{Type: "resource", TemporaryUUID: slot.ID}
	size, err := ops.CreateModFile(e.f.Mod, modFile)
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, "big-trees-pack.zip", modFile.Name)
	assert.Equal(t, "Big Trees Pack.ZIP", modFile.OriginalName)
	assert.Equal(t, "application/zip", modFile.MimeType)
	assert.Len(t, modFile.Checksum, 64)

	target := filepath.Join(e.opts.ModFileDir(e.f.Mod.ID, FileTypeResource), modFile.Name)
	_, err = os.Stat(target)
	require.True(t, os.IsNotExist(err), "nothing is written before apply")

	require.NoError(t, ops.ApplyFileOperations())

	stored, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	_, err = e.slots.GetSlot(e.f.Mod.ID, slot.ID)
	require.ErrorIs(t, err, ErrSlotNotFound, "promoted slot is removed")
}

func TestPromoteUniqueNames(t *testing.T) {
	e := newPromoterEnv(t)
	data := makeZip(t, map[string]string{"a": "a"})

	first := e.completedSlot(t, FileTypeResource, "pack.zip", data)
	second := e.completedSlot(t, FileTypeResource, "pack.zip", data)
	third := e.completedSlot(t, FileTypeResource, "pack.zip", data)

	ops := e.promoter.Begin(nil)
	a := &modmodel.ModFile{Type: "resource", TemporaryUUID: first.ID}
	b := &modmodel.ModFile{Type: "resource", TemporaryUUID: second.ID}
	_, err := ops.CreateModFile(e.f.Mod, a)
	require.NoError(t, err)
	_, err = ops.CreateModFile(e.f.Mod, b)
	require.NoError(t, err)

	assert.Equal(t, "pack.zip", a.Name)
	assert.Equal(t, "pack-1.zip", b.Name)
	require.NoError(t, ops.ApplyFileOperations())

	// Names recorded in the database are taken too.
	_, err = e.f.Stors.ModFileStor.CreateModFile(&modmodel.ModFile{ModID: e.f.Mod.ID, Type: "resource", Name: "pack-2.zip"})
	require.NoError(t, err)

	ops = e.promoter.Begin(nil)
	c := &modmodel.ModFile{Type: "resource", TemporaryUUID: third.ID}
	_, err = ops.CreateModFile(e.f.Mod, c)
	require.NoError(t, err)
	assert.Equal(t, "pack-3.zip", c.Name)
	ops.Discard()
}

func TestPromoteRejectsIncompleteAndMismatchedSlots(t *testing.T) {
	e := newPromoterEnv(t)

	pending, err := e.slots.CreateSlot(e.f.Mod.ID, 100, FileTypeResource, "a.zip")
	require.NoError(t, err)

	ops := e.promoter.Begin(nil)
	_, err = ops.CreateModFile(e.f.Mod, &modmodel.ModFile{Type: "resource", TemporaryUUID: pending.ID})
	require.ErrorIs(t, err, ErrSlotIncomplete)

	done := e.completedSlot(t, FileTypeResource, "b.zip", makeZip(t, nil))
	_, err = ops.CreateModFile(e.f.Mod, &modmodel.ModFile{Type: "image", TemporaryUUID: done.ID})
	require.ErrorIs(t, err, ErrInvalidFileType)

	_, err = ops.CreateModFile(e.f.Mod, &modmodel.ModFile{Type: "resource", TemporaryUUID: "not-a-slot"})
	require.ErrorIs(t, err, ErrSlotNotFound)

	require.Equal(t, 0, ops.Len())
}

func TestPromoteBackgroundIsReprocessed(t *testing.T) {
	e := newPromoterEnv(t)
	data := makePNG(t, 32, 24)
	slot := e.completedSlot(t, FileTypeBackground, "sunset.png", data)

	ops := e.promoter.Begin(nil)
	modFile := &modmodel.ModFile{Type: "background", TemporaryUUID: slot.ID}
	size, err := ops.CreateModFile(e.f.Mod, modFile)
	require.NoError(t, err)
	assert.Equal(t, "background.png", modFile.Name)
	assert.Equal(t, "image/png", modFile.MimeType)
	require.NoError(t, ops.ApplyFileOperations())

	stored, err := os.ReadFile(filepath.Join(e.opts.ModFileDir(e.f.Mod.ID, FileTypeBackground), modFile.Name))
	require.NoError(t, err)
	assert.Equal(t, size, int64(len(stored)))
	assert.NotEqual(t, data, stored)

	var expected bytes.Buffer
	require.NoError(t, ProcessBackground(bytes.NewReader(data), &expected))
	assert.Equal(t, expected.Bytes(), stored, "background processing is deterministic")

	img, err := png.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestDiscardKeepsSlots(t *testing.T) {
	e := newPromoterEnv(t)
	slot := e.completedSlot(t, FileTypeBackground, "bg.png", makePNG(t, 8, 8))

	ops := e.promoter.Begin(nil)
	_, err := ops.CreateModFile(e.f.Mod, &modmodel.ModFile{Type: "background", TemporaryUUID: slot.ID})
	require.NoError(t, err)

	_, err = os.Stat(slot.StagedPath())
	require.NoError(t, err)

	ops.Discard()

	_, err = os.Stat(slot.StagedPath())
	require.True(t, os.IsNotExist(err))

	_, err = e.slots.GetSlot(e.f.Mod.ID, slot.ID)
	require.NoError(t, err)
}

func TestDeleteModFileAppliesAfterCommitOnly(t *testing.T) {
	e := newPromoterEnv(t)
	dir := e.opts.ModFileDir(e.f.Mod.ID, FileTypeImage)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shot.png"), []byte("png"), 0644))

	cacheDir := e.opts.ModCacheDir(e.f.Mod.ID)
	require.NoError(t, os.MkdirAll(cacheDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "x.png"), []byte("cached"), 0644))

	ops := e.promoter.Begin(nil)
	require.NoError(t, ops.DeleteModFile(e.f.Mod, &modmodel.ModFile{Type: "image", Name: "shot.png"}))
	require.Error(t, ops.DeleteModFile(e.f.Mod, &modmodel.ModFile{Type: "image", Name: "../shot.png"}))

	_, err := os.Stat(filepath.Join(dir, "shot.png"))
	require.NoError(t, err)

	require.NoError(t, ops.ApplyFileOperations())

	_, err = os.Stat(filepath.Join(dir, "shot.png"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(cacheDir)
	require.True(t, os.IsNotExist(err))
}

func TestApplyContinuesPastFailures(t *testing.T) {
	e := newPromoterEnv(t)
	first := e.completedSlot(t, FileTypeResource, "a.zip", makeZip(t, nil))
	second := e.completedSlot(t, FileTypeResource, "b.zip", makeZip(t, nil))

	ops := e.promoter.Begin(nil)
	_, err := ops.CreateModFile(e.f.Mod, &modmodel.ModFile{Type: "resource", TemporaryUUID: first.ID})
	require.NoError(t, err)
	_, err = ops.CreateModFile(e.f.Mod, &modmodel.ModFile{Type: "resource", TemporaryUUID: second.ID})
	require.NoError(t, err)

	// Losing the first upload's bytes makes its promotion fail.
	require.NoError(t, os.Remove(first.DataPath()))

	require.Error(t, ops.ApplyFileOperations())

	_, err = os.Stat(filepath.Join(e.opts.ModFileDir(e.f.Mod.ID, FileTypeResource), "b.zip"))
	require.NoError(t, err)
}
