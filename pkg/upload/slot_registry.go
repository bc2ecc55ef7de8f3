package upload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/apex/log"
	"github.com/hashicorp/go-uuid"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/pkg/errors"
)

// SlotRegistry creates, loads and removes upload slots under <TempDir>/<modID>.
type SlotRegistry struct {
	opts *StorageOptions
	log  log.Interface
	now  func() time.Time
}

func NewSlotRegistry(opts *StorageOptions, logger log.Interface) *SlotRegistry {
	return &SlotRegistry{
		opts: opts,
		log:  clog.For(logger, "slot-registry"),
		now:  time.Now,
	}
}

// CreateSlot records an expected upload of size bytes for the mod and returns the new slot. The
// declared name is sanitized; background uploads always use BackgroundFileName.
func (r *SlotRegistry) CreateSlot(modID int, size int64, ft FileType, name string) (*Slot, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	if _, err := ParseFileType(string(ft)); err != nil {
		return nil, err
	}

	dir := r.opts.ModTempDir(modID)
	if err := os.MkdirAll(dir, r.opts.DirMode); err != nil {
		r.log.WithError(err).WithField("dir", dir).Error("Unable to create mod temporary directory")
		return nil, errors.Wrapf(ErrUploadConfiguration, "creating %s: %s", dir, err)
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		r.log.WithError(err).Error("Unable to generate slot id")
		return nil, errors.Wrapf(ErrUploadConfiguration, "generating slot id: %s", err)
	}

	if ft == FileTypeBackground {
		name = BackgroundFileName
	}

	now := r.now()
	slot := &Slot{
		Version:        slotDescriptorVersion,
		ID:             id,
		ModID:          modID,
		DeclaredSize:   size,
		FileType:       ft,
		DeclaredName:   SanitizeFileName(name),
		ChunkSize:      r.opts.ChunkSize,
		ChunksExpected: ChunkCount(size, r.opts.ChunkSize),
		CreatedAt:      now,
		UpdatedAt:      now,
		dir:            dir,
	}

	// O_EXCL guards against the (practically impossible) case of an id collision with a live slot.
	data, err := os.OpenFile(slot.DataPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		r.log.WithError(err).WithField("slot", id).Error("Unable to create slot data file")
		return nil, errors.Wrapf(ErrUploadConfiguration, "creating %s: %s", slot.DataPath(), err)
	}
	_ = data.Close()

	if err := r.SaveSlot(slot); err != nil {
		_ = os.Remove(slot.DataPath())
		return nil, err
	}

	r.log.WithFields(log.Fields{
		"slot":   id,
		"mod_id": modID,
		"type":   ft,
		"size":   size,
		"chunks": slot.ChunksExpected,
	}).Debug("Created upload slot")

	return slot, nil
}

// GetSlot loads a slot belonging to modID. Unknown ids, ids of another mod and malformed ids all
// give ErrSlotNotFound.
func (r *SlotRegistry) GetSlot(modID int, id string) (*Slot, error) {
	if _, err := uuid.ParseUUID(id); err != nil {
		return nil, ErrSlotNotFound
	}

	dir := r.opts.ModTempDir(modID)
	return r.loadSlot(filepath.Join(dir, id+slotDescriptorExt))
}

func (r *SlotRegistry) loadSlot(descriptorPath string) (*Slot, error) {
	b, err := os.ReadFile(descriptorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotNotFound
		}

		return nil, errors.Wrapf(err, "reading slot descriptor %s", descriptorPath)
	}

	var slot Slot
	if err := json.Unmarshal(b, &slot); err != nil {
		return nil, errors.Wrapf(err, "decoding slot descriptor %s", descriptorPath)
	}

	if slot.Version != slotDescriptorVersion {
		return nil, errors.Errorf("slot descriptor %s has unsupported version %d", descriptorPath, slot.Version)
	}

	slot.dir = filepath.Dir(descriptorPath)

	if strings.TrimSuffix(filepath.Base(descriptorPath), slotDescriptorExt) != slot.ID {
		return nil, ErrSlotNotFound
	}

	return &slot, nil
}

// SaveSlot writes the descriptor through a temporary file and a rename so a crash never leaves a
// half written descriptor behind.
func (r *SlotRegistry) SaveSlot(slot *Slot) error {
	slot.UpdatedAt = r.now()

	b, err := json.Marshal(slot)
	if err != nil {
		return errors.Wrapf(err, "encoding slot %s", slot.ID)
	}

	tmp := slot.DescriptorPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		r.log.WithError(err).WithField("slot", slot.ID).Error("Unable to write slot descriptor")
		return errors.Wrapf(ErrUploadConfiguration, "writing %s: %s", tmp, err)
	}

	if err := os.Rename(tmp, slot.DescriptorPath()); err != nil {
		_ = os.Remove(tmp)
		r.log.WithError(err).WithField("slot", slot.ID).Error("Unable to replace slot descriptor")
		return errors.Wrapf(ErrUploadConfiguration, "renaming %s: %s", tmp, err)
	}

	return nil
}

// DeleteSlot removes the descriptor, received bytes and any staged output of the slot.
func (r *SlotRegistry) DeleteSlot(slot *Slot) error {
	var firstErr error
	for _, path := range []string{slot.DescriptorPath(), slot.DataPath(), slot.StagedPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.Wrapf(err, "removing %s", path)
		}
	}

	return firstErr
}

// ListSlots returns every readable slot of the mod. Unreadable descriptors are logged and skipped.
func (r *SlotRegistry) ListSlots(modID int) ([]*Slot, error) {
	descriptors, err := filepath.Glob(filepath.Join(r.opts.ModTempDir(modID), "*"+slotDescriptorExt))
	if err != nil {
		return nil, err
	}

	slots := make([]*Slot, 0, len(descriptors))
	for _, descriptor := range descriptors {
		slot, err := r.loadSlot(descriptor)
		if err != nil {
			r.log.WithError(err).WithField("descriptor", descriptor).Warn("Skipping unreadable slot")
			continue
		}
		slots = append(slots, slot)
	}

	return slots, nil
}

// PendingBytes is the declared size of every live slot of the given mods. These bytes are counted
// against quotas so that parallel uploads can't jointly overshoot them.
func (r *SlotRegistry) PendingBytes(modIDs ...int) (int64, error) {
	var total int64
	for _, modID := range modIDs {
		slots, err := r.ListSlots(modID)
		if err != nil {
			return 0, err
		}

		for _, slot := range slots {
			total += slot.DeclaredSize
		}
	}

	return total, nil
}

// DeleteModTemporaryDir removes every slot of a mod.
func (r *SlotRegistry) DeleteModTemporaryDir(modID int) error {
	return os.RemoveAll(r.opts.ModTempDir(modID))
}

// SanitizeFileName reduces a client supplied name to a safe base name.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." {
		return "upload"
	}

	if len(name) > 200 {
		ext := filepath.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:200-len(ext)], "") + ext
	}

	return name
}
