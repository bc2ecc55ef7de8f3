package upload

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/pkg/errors"
	"github.com/tus/tusd/v2/pkg/filelocker"
	"github.com/tus/tusd/v2/pkg/handler"
)

// ChunkResult describes the state of a slot after a chunk was accepted. Token is only set on the
// chunk that completed the upload and is the id the file is later attached with.
type ChunkResult struct {
	FileType  FileType
	Completed bool
	Token     string
}

// defaultLockWait bounds how long a chunk waits for the file lock held by another process.
const defaultLockWait = 2 * time.Second

// ChunkReceiver appends chunks to slots. Only one chunk per slot is processed at a time. Within the
// process that is enforced by the busy set; between processes sharing TempDir by a tusd file lock
// next to the slot (the file lock is reentrant for its own process).
type ChunkReceiver struct {
	opts      *StorageOptions
	slots     *SlotRegistry
	validator *ContentValidator
	log       log.Interface
	lockWait  time.Duration

	mu   sync.Mutex
	busy map[string]bool
}

func NewChunkReceiver(opts *StorageOptions, slots *SlotRegistry, validator *ContentValidator, logger log.Interface) *ChunkReceiver {
	return &ChunkReceiver{
		opts:      opts,
		slots:     slots,
		validator: validator,
		log:       clog.For(logger, "chunk-receiver"),
		lockWait:  defaultLockWait,
		busy:      make(map[string]bool),
	}
}

// UploadChunk appends the bytes read from chunk to the slot. When chunkIndex is non-nil it has to
// be the index of the next expected chunk. The chunk that completes the slot triggers content
// validation; a failed validation deletes the slot and returns the content error.
func (c *ChunkReceiver) UploadChunk(ctx context.Context, modID int, slotID string, chunkIndex *int, chunk io.Reader) (*ChunkResult, error) {
	if _, err := c.slots.GetSlot(modID, slotID); err != nil {
		return nil, err
	}

	if !c.acquire(slotID) {
		return nil, ErrSlotBusy
	}
	defer c.release(slotID)

	lock, err := filelocker.New(c.opts.ModTempDir(modID)).NewLock(slotID)
	if err != nil {
		return nil, errors.Wrapf(ErrUploadConfiguration, "creating lock for slot %s: %s", slotID, err)
	}

	if err := c.lockSlot(ctx, lock); err != nil {
		if errors.Is(err, handler.ErrLockTimeout) {
			return nil, errors.Wrapf(ErrSlotBusy, "slot %s is locked by another process", slotID)
		}
		return nil, errors.Wrapf(ErrUploadConfiguration, "locking slot %s: %s", slotID, err)
	}

	result, err := c.receiveChunk(modID, slotID, chunkIndex, chunk)

	if unlockErr := lock.Unlock(); unlockErr != nil {
		c.log.WithError(unlockErr).WithField("slot", slotID).Warn("Unable to release slot lock")
	}

	if err != nil {
		return nil, err
	}

	c.throttle(ctx)

	return result, nil
}

// lockSlot waits at most lockWait for the file lock. The filelocker polls until its context ends
// and then reports handler.ErrLockTimeout.
func (c *ChunkReceiver) lockSlot(ctx context.Context, lock handler.Lock) error {
	ctx, cancel := context.WithTimeout(ctx, c.lockWait)
	defer cancel()

	return lock.Lock(ctx, func() {})
}

func (c *ChunkReceiver) acquire(slotID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy[slotID] {
		return false
	}
	c.busy[slotID] = true
	return true
}

func (c *ChunkReceiver) release(slotID string) {
	c.mu.Lock()
	delete(c.busy, slotID)
	c.mu.Unlock()
}

func (c *ChunkReceiver) receiveChunk(modID int, slotID string, chunkIndex *int, chunk io.Reader) (*ChunkResult, error) {
	// Reloaded under the lock; the chunk we waited on may have completed or deleted the slot.
	slot, err := c.slots.GetSlot(modID, slotID)
	if err != nil {
		return nil, err
	}

	fields := log.Fields{"slot": slot.ID, "mod_id": modID, "chunk": slot.ChunksReceived}

	if chunkIndex != nil && *chunkIndex == slot.ChunksReceived-1 {
		return c.repeatedChunk(slot, chunk)
	}

	if slot.IsFileUploadCompleted() {
		return nil, ErrSlotCompleted
	}

	if chunkIndex != nil && *chunkIndex != slot.ChunksReceived {
		return nil, errors.Wrapf(ErrChunkOutOfOrder, "expected chunk %d, got %d", slot.ChunksReceived, *chunkIndex)
	}

	data, err := io.ReadAll(io.LimitReader(chunk, slot.ChunkSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading chunk for slot %s", slot.ID)
	}

	switch {
	case int64(len(data)) > slot.ChunkSize:
		return nil, ErrChunkTooLarge
	case len(data) == 0:
		return nil, errors.Wrap(ErrInvalidSize, "empty chunk")
	case slot.BytesReceived+int64(len(data)) > slot.DeclaredSize:
		return nil, errors.Wrapf(ErrSizeMismatch, "chunk would grow upload past %d bytes", slot.DeclaredSize)
	}

	if err := c.appendChunk(slot, data); err != nil {
		c.log.WithError(err).WithFields(fields).Error("Unable to append chunk")
		return nil, err
	}

	previousBytes := slot.BytesReceived
	slot.ChunksReceived++
	slot.BytesReceived += int64(len(data))
	slot.LastChunkSize = int64(len(data))

	if err := c.slots.SaveSlot(slot); err != nil {
		_ = os.Truncate(slot.DataPath(), previousBytes)
		return nil, err
	}

	result := &ChunkResult{FileType: slot.FileType}
	if !slot.IsFileUploadCompleted() {
		return result, nil
	}

	if err := c.completeSlot(slot); err != nil {
		c.log.WithError(err).WithFields(fields).Info("Rejected completed upload")
		if deleteErr := c.slots.DeleteSlot(slot); deleteErr != nil {
			c.log.WithError(deleteErr).WithFields(fields).Error("Unable to delete rejected slot")
		}
		return nil, err
	}

	result.Completed = true
	result.Token = slot.ID

	c.log.WithFields(log.Fields{"slot": slot.ID, "mod_id": modID, "size": slot.BytesReceived}).Debug("Upload complete")

	return result, nil
}

// repeatedChunk answers a resend of the chunk accepted last, which happens when a client never saw
// the response. Nothing is written; the answer is the one the first delivery got.
func (c *ChunkReceiver) repeatedChunk(slot *Slot, chunk io.Reader) (*ChunkResult, error) {
	n, err := io.Copy(io.Discard, io.LimitReader(chunk, slot.ChunkSize+1))
	if err != nil {
		return nil, errors.Wrapf(err, "reading chunk for slot %s", slot.ID)
	}

	if n != slot.LastChunkSize {
		return nil, errors.Wrapf(ErrChunkOutOfOrder, "chunk %d was already received with %d bytes, got %d",
			slot.ChunksReceived-1, slot.LastChunkSize, n)
	}

	c.log.WithFields(log.Fields{"slot": slot.ID, "chunk": slot.ChunksReceived - 1}).Debug("Chunk received again")

	result := &ChunkResult{FileType: slot.FileType}
	if slot.IsFileUploadCompleted() && slot.Validated {
		result.Completed = true
		result.Token = slot.ID
	}

	return result, nil
}

// appendChunk writes data at BytesReceived. Anything past that offset is left over from a write
// whose descriptor update never happened and is dropped first.
func (c *ChunkReceiver) appendChunk(slot *Slot, data []byte) error {
	f, err := os.OpenFile(slot.DataPath(), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrSlotNotFound
		}
		return errors.Wrapf(ErrUploadConfiguration, "opening %s: %s", slot.DataPath(), err)
	}
	defer f.Close()

	if err := f.Truncate(slot.BytesReceived); err != nil {
		return errors.Wrapf(ErrUploadConfiguration, "truncating %s: %s", slot.DataPath(), err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}

	if err != nil {
		_ = f.Truncate(slot.BytesReceived)
		return errors.Wrapf(ErrUploadConfiguration, "writing %s: %s", slot.DataPath(), err)
	}

	return nil
}

func (c *ChunkReceiver) completeSlot(slot *Slot) error {
	if slot.BytesReceived != slot.DeclaredSize {
		return errors.Wrapf(ErrSizeMismatch, "received %d of %d bytes", slot.BytesReceived, slot.DeclaredSize)
	}

	if err := c.validator.Validate(slot.DataPath(), slot.FileType); err != nil {
		return err
	}

	slot.Validated = true
	return c.slots.SaveSlot(slot)
}

func (c *ChunkReceiver) throttle(ctx context.Context) {
	if c.opts.ChunkDelay <= 0 {
		return
	}

	t := time.NewTimer(c.opts.ChunkDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
