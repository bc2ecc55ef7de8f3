package upload

import (
	"github.com/apex/log"
	"github.com/docker/go-units"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"github.com/pkg/errors"
)

// UsageStor gives the bytes already stored permanently.
type UsageStor interface {
	TotalSizeForUser(userID int) (int64, error)
	TotalSizeForMod(modID int) (int64, error)
}

// ModLister lists the mods a user owns.
type ModLister interface {
	GetModIDsForUser(userID int) ([]int, error)
}

// QuotaState is the usage picture a quota decision was made on. The used figures include the
// declared size of live upload slots.
type QuotaState struct {
	DiskFreeBytes int64
	UserUsedBytes int64
	ModUsedBytes  int64
}

type QuotaEnforcer struct {
	opts  *StorageOptions
	disk  DiskSpacer
	usage UsageStor
	mods  ModLister
	slots *SlotRegistry
	log   log.Interface
}

func NewQuotaEnforcer(opts *StorageOptions, disk DiskSpacer, usage UsageStor, mods ModLister, slots *SlotRegistry, logger log.Interface) *QuotaEnforcer {
	return &QuotaEnforcer{
		opts:  opts,
		disk:  disk,
		usage: usage,
		mods:  mods,
		slots: slots,
		log:   clog.For(logger, "quota"),
	}
}

// CheckQuota decides whether a file of declaredSize bytes may be uploaded to mod. It checks the free
// space floor of the storage root, then the quota of the mod's owner, then the mod quota. Reaching a
// limit exactly is allowed; only exceeding it is rejected. It has no side effects.
func (q *QuotaEnforcer) CheckQuota(user *modmodel.User, mod *modmodel.Mod, declaredSize int64) error {
	if declaredSize <= 0 {
		return ErrInvalidSize
	}

	state, err := q.QuotaState(mod)
	if err != nil {
		return err
	}

	fields := log.Fields{
		"mod_id":    mod.ID,
		"size":      declaredSize,
		"disk_free": state.DiskFreeBytes,
		"user_used": state.UserUsedBytes,
		"mod_used":  state.ModUsedBytes,
	}
	if user != nil {
		fields["user_id"] = user.ID
	}

	switch {
	case state.DiskFreeBytes-declaredSize < q.opts.MinFreeSpace:
		q.log.WithFields(fields).Warn("Rejecting upload, storage is running out of space")
		return errors.Wrapf(ErrInsufficientStorageSpace, "%s free, %s requested",
			units.BytesSize(float64(state.DiskFreeBytes)), units.BytesSize(float64(declaredSize)))

	case state.UserUsedBytes+declaredSize > q.opts.UserQuota:
		q.log.WithFields(fields).Info("Rejecting upload, user quota reached")
		return errors.Wrapf(ErrUserQuotaReached, "%s of %s used",
			units.BytesSize(float64(state.UserUsedBytes)), units.BytesSize(float64(q.opts.UserQuota)))

	case state.ModUsedBytes+declaredSize > q.opts.ModQuota:
		q.log.WithFields(fields).Info("Rejecting upload, mod quota reached")
		return errors.Wrapf(ErrModQuotaReached, "%s of %s used",
			units.BytesSize(float64(state.ModUsedBytes)), units.BytesSize(float64(q.opts.ModQuota)))
	}

	return nil
}

// QuotaState measures free space and usage for mod and its owner.
func (q *QuotaEnforcer) QuotaState(mod *modmodel.Mod) (*QuotaState, error) {
	var (
		state QuotaState
		err   error
	)

	if state.DiskFreeBytes, err = q.disk.FreeBytes(q.opts.StorageDir); err != nil {
		q.log.WithError(err).WithField("dir", q.opts.StorageDir).Error("Unable to determine free disk space")
		return nil, errors.Wrapf(ErrUploadConfiguration, "measuring free space of %s: %s", q.opts.StorageDir, err)
	}

	if state.UserUsedBytes, err = q.usage.TotalSizeForUser(mod.OwnerID); err != nil {
		return nil, errors.Wrapf(err, "summing files of user %d", mod.OwnerID)
	}

	if state.ModUsedBytes, err = q.usage.TotalSizeForMod(mod.ID); err != nil {
		return nil, errors.Wrapf(err, "summing files of mod %d", mod.ID)
	}

	if q.slots == nil {
		return &state, nil
	}

	modIDs, err := q.mods.GetModIDsForUser(mod.OwnerID)
	if err != nil {
		return nil, errors.Wrapf(err, "listing mods of user %d", mod.OwnerID)
	}

	userPending, err := q.slots.PendingBytes(modIDs...)
	if err != nil {
		return nil, errors.Wrapf(err, "summing pending uploads of user %d", mod.OwnerID)
	}

	modPending, err := q.slots.PendingBytes(mod.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "summing pending uploads of mod %d", mod.ID)
	}

	state.UserUsedBytes += userPending
	state.ModUsedBytes += modPending

	return &state, nil
}
