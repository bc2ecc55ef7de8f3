package uploadclient

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

type State int

const (
	StateIdle State = iota
	StateSlotRequested
	StateChunkUploading
	StateComplete
	StateFailed
	StateRetryExceeded
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSlotRequested:
		return "slot-requested"
	case StateChunkUploading:
		return "chunk-uploading"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateRetryExceeded:
		return "retry-exceeded"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal is true for states an upload never leaves.
func (s State) Terminal() bool {
	return s >= StateComplete
}

var (
	ErrAborted       = errors.New("upload aborted")
	ErrRetryExceeded = errors.New("upload retry limit exceeded")
	ErrAlreadyUsed   = errors.New("upload already started")
)

const (
	DefaultChunkSize  = 2 * units.MiB
	DefaultMaxRetries = 3
)

type Options struct {
	// ChunkSize is only used when the server doesn't announce its chunk size.
	ChunkSize int64

	// MaxRetries is the number of times a failed chunk is sent again.
	MaxRetries int

	// RetryDelay is waited before each retry, plus a random duration up to Jitter.
	RetryDelay time.Duration
	Jitter     time.Duration

	// OnProgress is called after each accepted chunk with the bytes sent so far. uploaded equals
	// total exactly once, after the last chunk.
	OnProgress func(uploaded, total int64)

	// OnRetryExceeded is called when a chunk still fails after MaxRetries retries.
	OnRetryExceeded func(chunk int, err error)
}

// FileUpload sends one file to a mod. It moves Idle, SlotRequested, ChunkUploading and ends in
// Complete, Failed, RetryExceeded or Aborted. A FileUpload can be started once.
type FileUpload struct {
	client   *Client
	modID    int
	fileType string
	name     string
	size     int64
	r        io.ReaderAt
	opts     Options

	mu           sync.Mutex
	state        State
	chunk        int
	slotID       string
	temporaryURL string
	aborted      bool
	cancel       context.CancelFunc
}

func (c *Client) NewFileUpload(modID int, fileType, name string, r io.ReaderAt, size int64, opts Options) *FileUpload {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &FileUpload{
		client:   c,
		modID:    modID,
		fileType: fileType,
		name:     name,
		size:     size,
		r:        r,
		opts:     opts,
	}
}

func (u *FileUpload) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Chunk is the index of the chunk being (or last) sent.
func (u *FileUpload) Chunk() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.chunk
}

func (u *FileUpload) SlotID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.slotID
}

// TemporaryURL is the preview URL the server returned with the last chunk.
func (u *FileUpload) TemporaryURL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.temporaryURL
}

func (u *FileUpload) Size() int64 {
	return u.size
}

// Abort stops the upload and cancels the request in flight. Chunks already sent stay on the server
// until the slot expires.
func (u *FileUpload) Abort() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.aborted = true
	if u.cancel != nil {
		u.cancel()
	}
}

func (u *FileUpload) isAborted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.aborted
}

func (u *FileUpload) setState(state State) {
	u.mu.Lock()
	u.state = state
	u.mu.Unlock()
}

// finish moves into a terminal state after a failure. An abort wins over whatever error the
// cancelled request gave.
func (u *FileUpload) finish(state State, err error) error {
	if u.isAborted() {
		u.setState(StateAborted)
		return ErrAborted
	}

	u.setState(state)
	return err
}

// Start runs the upload and returns once it reached a terminal state. On success the slot id can be
// used to attach the file to the mod.
func (u *FileUpload) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.state != StateIdle {
		u.mu.Unlock()
		return ErrAlreadyUsed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	u.cancel = cancel
	u.state = StateSlotRequested
	aborted := u.aborted
	u.mu.Unlock()

	if aborted {
		return u.finish(StateAborted, ErrAborted)
	}

	fields := log.Fields{"mod_id": u.modID, "name": u.name, "size": u.size}

	slot, err := u.client.createUploadSlot(ctx, u.modID, u.fileType, u.name, u.size)
	if err != nil {
		u.client.log.WithError(err).WithFields(fields).Warn("Unable to create upload slot")
		return u.finish(StateFailed, err)
	}

	chunkSize := u.opts.ChunkSize
	if slot.ChunkSize > 0 {
		chunkSize = slot.ChunkSize
	}

	u.mu.Lock()
	u.slotID = slot.ID
	u.state = StateChunkUploading
	u.mu.Unlock()

	totalChunks := int((u.size + chunkSize - 1) / chunkSize)
	var uploaded int64

	for i := 0; i < totalChunks; i++ {
		offset := int64(i) * chunkSize
		length := chunkSize
		if remaining := u.size - offset; remaining < length {
			length = remaining
		}

		u.mu.Lock()
		u.chunk = i
		u.mu.Unlock()

		url, err := u.sendChunk(ctx, slot.ID, i, offset, length)
		if err != nil {
			if errors.Is(err, ErrRetryExceeded) {
				return u.finish(StateRetryExceeded, err)
			}
			return u.finish(StateFailed, err)
		}

		uploaded += length
		if u.opts.OnProgress != nil {
			u.opts.OnProgress(uploaded, u.size)
		}

		if i == totalChunks-1 {
			u.mu.Lock()
			u.temporaryURL = url
			u.mu.Unlock()
		}
	}

	// Every chunk was accepted, so the slot is complete on the server even if Abort was called
	// meanwhile.
	u.setState(StateComplete)
	u.client.log.WithFields(fields).WithField("slot", slot.ID).Debug("Upload complete")
	return nil
}

func (u *FileUpload) sendChunk(ctx context.Context, slotID string, index int, offset, length int64) (string, error) {
	for attempt := 0; ; attempt++ {
		url, err := u.client.uploadChunk(ctx, u.modID, slotID, index, io.NewSectionReader(u.r, offset, length))
		if err == nil {
			return url, nil
		}

		if u.isAborted() || ctx.Err() != nil {
			return "", err
		}

		var serverErr *ServerError
		if errors.As(err, &serverErr) && !serverErr.Retryable() {
			return "", err
		}

		if attempt >= u.opts.MaxRetries {
			if u.opts.OnRetryExceeded != nil {
				u.opts.OnRetryExceeded(index, err)
			}
			return "", errors.Wrapf(ErrRetryExceeded, "chunk %d: %s", index, err)
		}

		u.client.log.WithError(err).WithFields(log.Fields{"slot": slotID, "chunk": index, "attempt": attempt + 1}).
			Info("Retrying chunk")

		if err := u.wait(ctx); err != nil {
			return "", err
		}
	}
}

func (u *FileUpload) wait(ctx context.Context) error {
	delay := u.opts.RetryDelay
	if u.opts.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(u.opts.Jitter)))
	}

	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
