package upload

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/lock"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/modvault/modvault/pkg/moddb/stor"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Attachment asks a mod save to promote the upload in Slot as a file of Type.
type Attachment struct {
	Slot string `json:"slot"`
	Type string `json:"type"`
}

// ServedFile is a file ready to be streamed to a client.
type ServedFile struct {
	Path     string
	Name     string
	MimeType string
}

// UploadService is the entry point used by the web layer. It combines quota checks, slot
// management, chunk handling and the two phase mod save.
type UploadService struct {
	opts       *StorageOptions
	db         *gorm.DB
	stors      *stor.Stors
	slots      *SlotRegistry
	receiver   *ChunkReceiver
	quota      *QuotaEnforcer
	promoter   *StoragePromoter
	reconciler Reconciler
	userLocks  *lock.IdLocker[int]
	modLocks   *lock.IdLocker[int]
	log        log.Interface
}

func NewUploadService(opts *StorageOptions, db *gorm.DB, disk DiskSpacer, logger log.Interface) *UploadService {
	stors := stor.NewGormStors(db)
	slots := NewSlotRegistry(opts, logger)

	return &UploadService{
		opts:       opts,
		db:         db,
		stors:      stors,
		slots:      slots,
		receiver:   NewChunkReceiver(opts, slots, NewContentValidator(opts.MaxImagePixels), logger),
		quota:      NewQuotaEnforcer(opts, disk, stors.ModFileStor, stors.ModStor, slots, logger),
		promoter:   NewStoragePromoter(opts, slots, stors.ModFileStor, logger),
		reconciler: NewLogReconciler(logger),
		userLocks:  lock.NewIdLocker[int](),
		modLocks:   lock.NewIdLocker[int](),
		log:        clog.For(logger, "upload-service"),
	}
}

// SetReconciler replaces the default LogReconciler.
func (s *UploadService) SetReconciler(r Reconciler) {
	s.reconciler = r
}

func (s *UploadService) Slots() *SlotRegistry {
	return s.slots
}

func (s *UploadService) Options() *StorageOptions {
	return s.opts
}

// CreateUploadSlot checks the declared size against the type limit and the quotas, then creates a
// slot. Check and creation run under a lock on the mod owner, and pending slots count as used, so
// concurrent requests from one process can't jointly exceed a quota.
func (s *UploadService) CreateUploadSlot(user *modmodel.User, mod *modmodel.Mod, fileType string, size int64, name string) (*Slot, error) {
	ft, err := ParseFileType(fileType)
	if err != nil {
		return nil, err
	}

	if size <= 0 {
		return nil, ErrInvalidSize
	}

	if limit := s.opts.MaxSizeFor(ft); size > limit {
		return nil, errors.Wrapf(ErrFileTooLarge, "%s files may be at most %d bytes", ft, limit)
	}

	var slot *Slot
	err = s.userLocks.WithLock(mod.OwnerID, func() error {
		if err := s.quota.CheckQuota(user, mod, size); err != nil {
			return err
		}

		slot, err = s.slots.CreateSlot(mod.ID, size, ft, name)
		return err
	})

	return slot, err
}

func (s *UploadService) UploadChunk(ctx context.Context, mod *modmodel.Mod, slotID string, chunkIndex *int, chunk io.Reader) (*ChunkResult, error) {
	return s.receiver.UploadChunk(ctx, mod.ID, slotID, chunkIndex, chunk)
}

// AbandonSlot deletes a slot the client gave up on.
func (s *UploadService) AbandonSlot(mod *modmodel.Mod, slotID string) error {
	return s.modLocks.WithLock(mod.ID, func() error {
		slot, err := s.slots.GetSlot(mod.ID, slotID)
		if err != nil {
			return err
		}

		_ = os.Remove(cachedBackgroundPath(s.opts, mod.ID, slot.ID))

		return s.slots.DeleteSlot(slot)
	})
}

// OpenTemporaryFile returns a completed upload for previewing. Backgrounds are served the way they
// will be stored, composited with the gradient; the processed image is cached per slot.
func (s *UploadService) OpenTemporaryFile(mod *modmodel.Mod, slotID, fileType string) (*ServedFile, error) {
	ft, err := ParseFileType(fileType)
	if err != nil {
		return nil, err
	}

	slot, err := s.slots.GetSlot(mod.ID, slotID)
	if err != nil {
		return nil, err
	}

	if slot.FileType != ft {
		return nil, ErrSlotNotFound
	}

	if !slot.IsFileUploadCompleted() || !slot.Validated {
		return nil, ErrSlotIncomplete
	}

	if ft != FileTypeBackground {
		return &ServedFile{Path: slot.DataPath(), Name: slot.DeclaredName, MimeType: DetectMimeType(slot.DataPath())}, nil
	}

	path, err := s.cachedBackground(slot)
	if err != nil {
		return nil, err
	}

	return &ServedFile{Path: path, Name: BackgroundFileName, MimeType: "image/png"}, nil
}

func (s *UploadService) cachedBackground(slot *Slot) (string, error) {
	path := cachedBackgroundPath(s.opts, slot.ModID, slot.ID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), s.opts.DirMode); err != nil {
		return "", errors.Wrapf(ErrUploadConfiguration, "creating %s: %s", filepath.Dir(path), err)
	}

	in, err := os.Open(slot.DataPath())
	if err != nil {
		return "", errors.Wrapf(ErrSlotNotFound, "%s", err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(path), "."+slot.ID+".*")
	if err != nil {
		return "", errors.Wrapf(ErrUploadConfiguration, "creating cache file: %s", err)
	}

	if err := ProcessBackground(in, out); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return "", err
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return "", errors.Wrapf(ErrUploadConfiguration, "writing cache file: %s", err)
	}

	if err := os.Rename(out.Name(), path); err != nil {
		_ = os.Remove(out.Name())
		return "", errors.Wrapf(ErrUploadConfiguration, "renaming cache file: %s", err)
	}

	return path, nil
}

// OpenModFile returns a permanently stored file of the mod.
func (s *UploadService) OpenModFile(mod *modmodel.Mod, fileID int) (*ServedFile, error) {
	modFile, err := s.stors.ModFileStor.GetModFileByID(mod.ID, fileID)
	if err != nil {
		if errors.Is(err, stor.ErrNotFound) {
			return nil, ErrModFileNotFound
		}
		return nil, err
	}

	ft, err := ParseFileType(modFile.Type)
	if err != nil {
		return nil, err
	}

	return &ServedFile{
		Path:     filepath.Join(s.opts.ModFileDir(mod.ID, ft), modFile.Name),
		Name:     modFile.Name,
		MimeType: modFile.MimeType,
	}, nil
}

func (s *UploadService) ListModFiles(mod *modmodel.Mod) ([]modmodel.ModFile, error) {
	return s.stors.ModFileStor.ListModFiles(mod.ID)
}

// SaveModFiles attaches completed uploads to the mod and removes files from it. Database rows are
// written in one transaction while the file operations are only staged; they are applied after
// the commit. When applying fails the database is already committed, so the failure goes to the
// Reconciler and the save still succeeds.
//
// Saves of one mod run one at a time, from the transaction through the apply, so a slot is
// promoted at most once.
func (s *UploadService) SaveModFiles(mod *modmodel.Mod, attach []Attachment, deleteIDs []int) ([]modmodel.ModFile, error) {
	err := s.modLocks.WithLock(mod.ID, func() error {
		return s.saveModFiles(mod, attach, deleteIDs)
	})
	if err != nil {
		return nil, err
	}

	return s.stors.ModFileStor.ListModFiles(mod.ID)
}

func (s *UploadService) saveModFiles(mod *modmodel.Mod, attach []Attachment, deleteIDs []int) error {
	var ops *FileOperations

	err := stor.WithTxRetry(s.db, func(tx *gorm.DB) error {
		if ops != nil {
			ops.Discard()
		}

		fileStor := stor.NewGormModFileStor(tx)
		ops = s.promoter.Begin(fileStor)

		for _, fileID := range deleteIDs {
			modFile, err := fileStor.GetModFileByID(mod.ID, fileID)
			if err != nil {
				if errors.Is(err, stor.ErrNotFound) {
					return stor.Permanent(errors.Wrapf(ErrModFileNotFound, "file %d", fileID))
				}
				return err
			}

			if err := ops.DeleteModFile(mod, modFile); err != nil {
				return stor.Permanent(err)
			}

			if err := fileStor.DeleteModFile(modFile); err != nil {
				return err
			}
		}

		for _, a := range attach {
			modFile := &modmodel.ModFile{Type: a.Type, TemporaryUUID: a.Slot}
			if _, err := ops.CreateModFile(mod, modFile); err != nil {
				return stor.Permanent(err)
			}

			if _, err := fileStor.CreateModFile(modFile); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		if ops != nil {
			ops.Discard()
		}
		return err
	}

	if err := ops.ApplyFileOperations(); err != nil {
		s.reconciler.Reconcile(mod.ID, err)
	}

	s.log.WithFields(log.Fields{"mod_id": mod.ID, "attached": len(attach), "deleted": len(deleteIDs)}).Info("Saved mod files")

	return nil
}
