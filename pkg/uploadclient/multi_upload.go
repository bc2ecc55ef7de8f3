package uploadclient

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// FileSpec names one file of a MultiUpload.
type FileSpec struct {
	Type   string
	Name   string
	Reader io.ReaderAt
	Size   int64
}

// MultiUpload uploads several files to one mod, strictly one after the other, and reports progress
// over all of them.
type MultiUpload struct {
	client *Client
	modID  int
	opts   Options

	mu      sync.Mutex
	uploads []*FileUpload
	current *FileUpload
	aborted bool
}

// NewMultiUpload prepares the uploads. opts.OnProgress receives the aggregate progress.
func (c *Client) NewMultiUpload(modID int, files []FileSpec, opts Options) *MultiUpload {
	m := &MultiUpload{client: c, modID: modID, opts: opts}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	var done int64
	for _, f := range files {
		fileOpts := opts
		base := done
		fileOpts.OnProgress = func(uploaded, _ int64) {
			if opts.OnProgress != nil {
				opts.OnProgress(base+uploaded, total)
			}
		}
		m.uploads = append(m.uploads, c.NewFileUpload(modID, f.Type, f.Name, f.Reader, f.Size, fileOpts))
		done += f.Size
	}

	return m
}

func (m *MultiUpload) Uploads() []*FileUpload {
	return m.uploads
}

// Start runs the uploads in order and stops at the first one that doesn't complete.
func (m *MultiUpload) Start(ctx context.Context) error {
	for i, u := range m.uploads {
		m.mu.Lock()
		if m.aborted {
			m.mu.Unlock()
			return ErrAborted
		}
		m.current = u
		m.mu.Unlock()

		if err := u.Start(ctx); err != nil {
			return errors.Wrapf(err, "file %d (%s)", i+1, u.name)
		}
	}

	return nil
}

// Attachments lists the completed uploads in the form SaveModFiles takes.
func (m *MultiUpload) Attachments() []Attachment {
	var attachments []Attachment
	for _, u := range m.uploads {
		if u.State() == StateComplete {
			attachments = append(attachments, Attachment{Slot: u.SlotID(), Type: u.fileType})
		}
	}

	return attachments
}

func (m *MultiUpload) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.aborted = true
	if m.current != nil {
		m.current.Abort()
	}
}
