package upload

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/modvault/modvault/pkg/clog"
	"github.com/pkg/errors"
	"github.com/saracen/walker"
)

// SweepStats counts what a sweep removed.
type SweepStats struct {
	SlotsRemoved   int
	OrphansRemoved int
	CacheRemoved   int
}

// Janitor reclaims temporary storage left behind by abandoned uploads. A slot is abandoned once it
// hasn't been touched for the retention window.
type Janitor struct {
	opts      *StorageOptions
	slots     *SlotRegistry
	log       log.Interface
	now       func() time.Time
	scheduler gocron.Scheduler
}

func NewJanitor(opts *StorageOptions, slots *SlotRegistry, logger log.Interface) *Janitor {
	return &Janitor{
		opts:  opts,
		slots: slots,
		log:   clog.For(logger, "janitor"),
		now:   time.Now,
	}
}

// Start runs Sweep every interval until Stop is called.
func (j *Janitor) Start(interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "creating janitor scheduler")
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := j.Sweep(); err != nil {
				j.log.WithError(err).Error("Sweep failed")
			}
		}),
		gocron.WithName("upload-janitor"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return errors.Wrap(err, "scheduling janitor")
	}

	s.Start()
	j.scheduler = s

	return nil
}

func (j *Janitor) Stop() error {
	if j.scheduler == nil {
		return nil
	}

	err := j.scheduler.Shutdown()
	j.scheduler = nil
	return err
}

type sweepEntry struct {
	path    string
	modTime time.Time
}

// Sweep removes expired slots, files in the temporary root that belong to no slot, and cached
// backgrounds, all once they are older than the retention window.
func (j *Janitor) Sweep() (*SweepStats, error) {
	cutoff := j.now().Add(-j.opts.SlotRetention)
	stats := &SweepStats{}

	tempFiles, err := collectFiles(j.opts.TempDir)
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", j.opts.TempDir)
	}

	live := make(map[string]bool)
	for _, entry := range tempFiles {
		if filepath.Ext(entry.path) != slotDescriptorExt {
			continue
		}

		slot, err := j.slots.loadSlot(entry.path)
		if err != nil {
			continue
		}

		if slot.UpdatedAt.After(cutoff) {
			live[slotKey(entry.path)] = true
			continue
		}

		if err := j.slots.DeleteSlot(slot); err != nil {
			j.log.WithError(err).WithField("slot", slot.ID).Warn("Unable to remove expired slot")
			live[slotKey(entry.path)] = true
			continue
		}

		j.log.WithFields(log.Fields{"slot": slot.ID, "mod_id": slot.ModID, "updated_at": slot.UpdatedAt}).
			Info("Removed expired upload slot")
		stats.SlotsRemoved++
	}

	for _, entry := range tempFiles {
		if live[slotKey(entry.path)] || !entry.modTime.Before(cutoff) {
			continue
		}

		if err := os.Remove(entry.path); err != nil {
			if !os.IsNotExist(err) {
				j.log.WithError(err).WithField("path", entry.path).Warn("Unable to remove orphaned file")
			}
			continue
		}
		stats.OrphansRemoved++
	}

	cacheFiles, err := collectFiles(j.opts.CacheDir)
	if err != nil {
		return nil, errors.Wrapf(err, "walking %s", j.opts.CacheDir)
	}

	for _, entry := range cacheFiles {
		if entry.modTime.Before(cutoff) && os.Remove(entry.path) == nil {
			stats.CacheRemoved++
		}
	}

	j.removeEmptyDirs(j.opts.TempDir, cutoff)
	j.removeEmptyDirs(j.opts.CacheDir, cutoff)

	if stats.SlotsRemoved+stats.OrphansRemoved+stats.CacheRemoved > 0 {
		j.log.WithFields(log.Fields{
			"slots":   stats.SlotsRemoved,
			"orphans": stats.OrphansRemoved,
			"cache":   stats.CacheRemoved,
		}).Info("Sweep finished")
	}

	return stats, nil
}

// removeEmptyDirs removes the per mod directories that no longer hold anything and haven't changed
// since cutoff.
func (j *Janitor) removeEmptyDirs(root string, cutoff time.Time) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		finfo, err := entry.Info()
		if err != nil || !finfo.ModTime().Before(cutoff) {
			continue
		}

		// Fails harmlessly on directories that aren't empty.
		_ = os.Remove(filepath.Join(root, entry.Name()))
	}
}

// slotKey is the path of a slot file without its extension, shared by all files of one slot.
func slotKey(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}

	return filepath.Join(filepath.Dir(path), base)
}

// collectFiles lists the regular files below root. walker calls back from several goroutines.
func collectFiles(root string) ([]sweepEntry, error) {
	var (
		mu      sync.Mutex
		entries []sweepEntry
	)

	err := walker.Walk(root, func(pathname string, fi os.FileInfo) error {
		if !fi.Mode().IsRegular() {
			return nil
		}

		mu.Lock()
		entries = append(entries, sweepEntry{path: pathname, modTime: fi.ModTime()})
		mu.Unlock()
		return nil
	})

	if os.IsNotExist(err) {
		return nil, nil
	}

	return entries, err
}
