package upload

import (
	"path/filepath"
	"time"
)

const (
	slotDescriptorVersion = 1

	slotDescriptorExt = ".json"
	slotDataExt       = ".part"
	slotStagedExt     = ".staged"
)

// Slot is the server side record of one in-flight upload. It's stored as a JSON descriptor next
// to the file holding the bytes received so far.
type Slot struct {
	Version        int       `json:"version"`
	ID             string    `json:"id"`
	ModID          int       `json:"mod_id"`
	DeclaredSize   int64     `json:"declared_size"`
	FileType       FileType  `json:"file_type"`
	DeclaredName   string    `json:"declared_name"`
	ChunkSize      int64     `json:"chunk_size"`
	ChunksExpected int       `json:"chunks_expected"`
	ChunksReceived int       `json:"chunks_received"`
	BytesReceived  int64     `json:"bytes_received"`
	LastChunkSize  int64     `json:"last_chunk_size"`
	Validated      bool      `json:"validated"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	dir string
}

// ChunkCount is ceil(size / chunkSize).
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}

	return int((size + chunkSize - 1) / chunkSize)
}

// IsFileUploadCompleted is true once every expected chunk has been received.
func (s *Slot) IsFileUploadCompleted() bool {
	return s.ChunksReceived >= s.ChunksExpected
}

func (s *Slot) DescriptorPath() string {
	return filepath.Join(s.dir, s.ID+slotDescriptorExt)
}

func (s *Slot) DataPath() string {
	return filepath.Join(s.dir, s.ID+slotDataExt)
}

// StagedPath is where post-processed content (backgrounds) is written before promotion.
func (s *Slot) StagedPath() string {
	return filepath.Join(s.dir, s.ID+slotStagedExt)
}

func (s *Slot) lockDir() string {
	return s.dir
}
