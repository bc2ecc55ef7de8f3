package upload

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/gosimple/slug"
	"github.com/hashicorp/go-uuid"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ModFileNamer reports whether a final name is already used in the database. During a mod save
// it should be backed by the save's transaction.
type ModFileNamer interface {
	ModFileNameExists(modID int, fileType, name string) (bool, error)
}

// StoragePromoter moves validated uploads into permanent storage. Work is staged in a
// FileOperations batch while the database transaction runs, and only touches permanent storage
// when ApplyFileOperations is called after the commit.
type StoragePromoter struct {
	opts  *StorageOptions
	slots *SlotRegistry
	names ModFileNamer
	log   log.Interface
}

func NewStoragePromoter(opts *StorageOptions, slots *SlotRegistry, names ModFileNamer, logger log.Interface) *StoragePromoter {
	return &StoragePromoter{
		opts:  opts,
		slots: slots,
		names: names,
		log:   clog.For(logger, "storage-promoter"),
	}
}

type fileOpKind int

const (
	fileOpCreate fileOpKind = iota
	fileOpDelete
)

type fileOperation struct {
	kind   fileOpKind
	modID  int
	slot   *Slot
	source string
	target string
}

// FileOperations is one batch of staged creates and deletes. It is not safe for concurrent use.
type FileOperations struct {
	p        *StoragePromoter
	names    ModFileNamer
	ops      []fileOperation
	reserved map[string]bool
	staged   []string
}

// Begin starts a batch. names overrides the promoter's ModFileNamer, which lets a mod save check
// names against its own transaction; pass nil to use the default.
func (p *StoragePromoter) Begin(names ModFileNamer) *FileOperations {
	if names == nil {
		names = p.names
	}

	return &FileOperations{
		p:        p,
		names:    names,
		reserved: make(map[string]bool),
	}
}

// CreateModFile stages the promotion of the slot named by modFile.TemporaryUUID. It fills in the
// final name, size, checksum and MIME type of modFile and returns the size of the bytes that will
// be stored, which for backgrounds is the size of the processed image.
func (f *FileOperations) CreateModFile(mod *modmodel.Mod, modFile *modmodel.ModFile) (int64, error) {
	ft, err := ParseFileType(modFile.Type)
	if err != nil {
		return 0, err
	}

	slot, err := f.p.slots.GetSlot(mod.ID, modFile.TemporaryUUID)
	if err != nil {
		return 0, err
	}

	if slot.FileType != ft {
		return 0, errors.Wrapf(ErrInvalidFileType, "slot %s holds a %s, not a %s", slot.ID, slot.FileType, ft)
	}

	if !slot.IsFileUploadCompleted() || !slot.Validated {
		return 0, ErrSlotIncomplete
	}

	for _, op := range f.ops {
		if op.kind == fileOpCreate && op.slot.ID == slot.ID {
			return 0, errors.Wrapf(ErrSlotCompleted, "slot %s is already attached", slot.ID)
		}
	}

	source := slot.DataPath()
	if ft == FileTypeBackground {
		if err := f.p.stageBackground(slot); err != nil {
			return 0, err
		}
		source = slot.StagedPath()
		f.staged = append(f.staged, source)
	}

	name, err := f.uniqueName(mod.ID, ft, slot.DeclaredName)
	if err != nil {
		return 0, err
	}

	finfo, err := os.Stat(source)
	if err != nil {
		return 0, errors.Wrapf(ErrUploadConfiguration, "stat %s: %s", source, err)
	}

	checksum, err := fileChecksum(source)
	if err != nil {
		return 0, errors.Wrapf(ErrUploadConfiguration, "checksum of %s: %s", source, err)
	}

	if modFile.UUID == "" {
		if modFile.UUID, err = uuid.GenerateUUID(); err != nil {
			return 0, err
		}
	}

	modFile.ModID = mod.ID
	modFile.Type = string(ft)
	modFile.Name = name
	modFile.Size = finfo.Size()
	modFile.Checksum = checksum
	modFile.MimeType = DetectMimeType(source)
	if modFile.OriginalName == "" {
		modFile.OriginalName = slot.DeclaredName
	}

	target := filepath.Join(f.p.opts.ModFileDir(mod.ID, ft), name)
	f.reserved[target] = true
	f.ops = append(f.ops, fileOperation{
		kind:   fileOpCreate,
		modID:  mod.ID,
		slot:   slot,
		source: source,
		target: target,
	})

	return modFile.Size, nil
}

// DeleteModFile stages the removal of a permanent file.
func (f *FileOperations) DeleteModFile(mod *modmodel.Mod, modFile *modmodel.ModFile) error {
	ft, err := ParseFileType(modFile.Type)
	if err != nil {
		return err
	}

	if modFile.Name == "" || filepath.Base(modFile.Name) != modFile.Name {
		return errors.Errorf("mod file %d has an invalid name %q", modFile.ID, modFile.Name)
	}

	f.ops = append(f.ops, fileOperation{
		kind:   fileOpDelete,
		modID:  mod.ID,
		target: filepath.Join(f.p.opts.ModFileDir(mod.ID, ft), modFile.Name),
	})

	return nil
}

// Len is the number of staged operations.
func (f *FileOperations) Len() int {
	return len(f.ops)
}

// ApplyFileOperations carries out the staged operations in order. A failing operation doesn't
// stop the others; all failures are returned joined. The batch is empty afterwards.
func (f *FileOperations) ApplyFileOperations() error {
	var errs []error

	for _, op := range f.ops {
		var err error
		switch op.kind {
		case fileOpCreate:
			err = f.p.promote(op)
		case fileOpDelete:
			err = f.p.remove(op)
		}

		if err != nil {
			f.p.log.WithError(err).WithFields(log.Fields{"mod_id": op.modID, "path": op.target}).
				Error("Unable to apply file operation")
			errs = append(errs, err)
		}
	}

	f.ops = nil
	f.staged = nil
	f.reserved = make(map[string]bool)

	return joinErrors(errs)
}

// Discard drops the batch, removing staged background output. Slots are left in place so the
// files can be attached again.
func (f *FileOperations) Discard() {
	for _, path := range f.staged {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			f.p.log.WithError(err).WithField("path", path).Warn("Unable to remove staged file")
		}
	}

	f.ops = nil
	f.staged = nil
	f.reserved = make(map[string]bool)
}

// uniqueName slugs the base of declared and appends -1, -2, ... until the name is used neither in
// the database, on disk nor earlier in this batch.
func (f *FileOperations) uniqueName(modID int, ft FileType, declared string) (string, error) {
	ext := strings.ToLower(filepath.Ext(declared))
	base := slug.Make(strings.TrimSuffix(declared, filepath.Ext(declared)))
	if base == "" {
		base = string(ft)
	}

	if ext != "" && slug.Make(ext) != ext[1:] {
		ext = ""
	}

	dir := f.p.opts.ModFileDir(modID, ft)
	name := base + ext
	for i := 1; ; i++ {
		taken, err := f.nameTaken(modID, ft, dir, name)
		if err != nil {
			return "", err
		}

		if !taken {
			return name, nil
		}

		name = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}

func (f *FileOperations) nameTaken(modID int, ft FileType, dir, name string) (bool, error) {
	path := filepath.Join(dir, name)
	if f.reserved[path] {
		return true, nil
	}

	if _, err := os.Lstat(path); err == nil {
		return true, nil
	}

	if f.names == nil {
		return false, nil
	}

	exists, err := f.names.ModFileNameExists(modID, string(ft), name)
	if err != nil {
		return false, errors.Wrapf(err, "checking name %s", name)
	}

	return exists, nil
}

func (p *StoragePromoter) stageBackground(slot *Slot) error {
	in, err := os.Open(slot.DataPath())
	if err != nil {
		return errors.Wrapf(ErrUploadConfiguration, "opening %s: %s", slot.DataPath(), err)
	}
	defer in.Close()

	out, err := os.Create(slot.StagedPath())
	if err != nil {
		return errors.Wrapf(ErrUploadConfiguration, "creating %s: %s", slot.StagedPath(), err)
	}

	if err := ProcessBackground(in, out); err != nil {
		_ = out.Close()
		_ = os.Remove(slot.StagedPath())
		return err
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(slot.StagedPath())
		return errors.Wrapf(ErrUploadConfiguration, "writing %s: %s", slot.StagedPath(), err)
	}

	return nil
}

func (p *StoragePromoter) promote(op fileOperation) error {
	if err := os.MkdirAll(filepath.Dir(op.target), p.opts.DirMode); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(op.target))
	}

	if err := copyFileAtomic(op.source, op.target); err != nil {
		return err
	}

	p.removeCachedSlot(op.modID, op.slot.ID)

	if err := p.slots.DeleteSlot(op.slot); err != nil {
		return errors.Wrapf(err, "removing promoted slot %s", op.slot.ID)
	}

	return nil
}

func (p *StoragePromoter) remove(op fileOperation) error {
	if err := os.Remove(op.target); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", op.target)
	}

	if err := os.RemoveAll(p.opts.ModCacheDir(op.modID)); err != nil {
		return errors.Wrapf(err, "invalidating cache of mod %d", op.modID)
	}

	return nil
}

func (p *StoragePromoter) removeCachedSlot(modID int, slotID string) {
	path := cachedBackgroundPath(p.opts, modID, slotID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.WithError(err).WithField("path", path).Warn("Unable to remove cached background")
	}
}

func cachedBackgroundPath(opts *StorageOptions, modID int, slotID string) string {
	return filepath.Join(opts.ModCacheDir(modID), slotID+".png")
}

// copyFileAtomic copies src next to dst and renames it into place, so dst is either absent or
// complete.
func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %s", dst)
	}
	tmp := out.Name()

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "copying %s", src)
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "syncing %s", tmp)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "closing %s", tmp)
	}

	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "chmod %s", tmp)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "renaming %s", tmp)
	}

	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
