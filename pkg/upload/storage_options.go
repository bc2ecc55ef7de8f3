package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/go-homedir"
	"github.com/modvault/modvault/pkg/config"
	"github.com/pkg/errors"
)

// StorageOptions holds the resolved directories and limits of the upload subsystem. Sizes are in
// bytes; the configuration expresses quotas and the free space floor in MiB.
type StorageOptions struct {
	StorageDir string
	TempDir    string
	CacheDir   string
	DirMode    os.FileMode

	MaxImageSize    int64
	MaxResourceSize int64
	MaxImagePixels  int64

	UserQuota    int64
	ModQuota     int64
	MinFreeSpace int64

	ChunkSize     int64
	ChunkDelay    time.Duration
	SlotRetention time.Duration
}

const (
	defaultChunkSize = 2 * units.MiB
	defaultDirMode   = 0755
)

// LoadStorageOptions reads the MODS_* keys. Directories are expanded (~ is allowed) and made
// absolute but not checked; call Validate for that.
func LoadStorageOptions(c config.Configer) (*StorageOptions, error) {
	o := &StorageOptions{
		DirMode:         os.FileMode(c.GetOctalKeyWithDefault("MODS_DIR_MODE", defaultDirMode)),
		MaxImageSize:    c.GetInt64KeyWithDefault("MODS_MAX_IMAGE_SIZE_MB", 8) * units.MiB,
		MaxResourceSize: c.GetInt64KeyWithDefault("MODS_MAX_RESOURCE_SIZE_MB", 256) * units.MiB,
		MaxImagePixels:  c.GetInt64KeyWithDefault("MODS_MAX_IMAGE_PIXELS", 40_000_000),
		UserQuota:       c.GetInt64KeyWithDefault("MODS_USER_QUOTA_MB", 1024) * units.MiB,
		ModQuota:        c.GetInt64KeyWithDefault("MODS_MOD_QUOTA_MB", 512) * units.MiB,
		MinFreeSpace:    c.GetInt64KeyWithDefault("MODS_MIN_FREE_SPACE_MB", 1024) * units.MiB,
		ChunkSize:       c.GetInt64KeyWithDefault("MODS_CHUNK_SIZE", defaultChunkSize),
		ChunkDelay:      time.Duration(c.GetInt64KeyWithDefault("MODS_CHUNK_DELAY_MS", 1000)) * time.Millisecond,
		SlotRetention:   time.Duration(c.GetInt64KeyWithDefault("MODS_SLOT_RETENTION_HOURS", 24)) * time.Hour,
	}

	var err error
	if o.StorageDir, err = resolveDir(c, "MODS_STORAGE_DIR"); err != nil {
		return nil, err
	}

	if o.TempDir, err = resolveDir(c, "MODS_TEMP_DIR"); err != nil {
		return nil, err
	}

	if o.CacheDir, err = resolveDir(c, "MODS_CACHE_DIR"); err != nil {
		return nil, err
	}

	if o.ChunkSize <= 0 {
		return nil, errors.Wrapf(ErrUploadConfiguration, "MODS_CHUNK_SIZE must be positive, got %d", o.ChunkSize)
	}

	return o, nil
}

func resolveDir(c config.Configer, key string) (string, error) {
	dir := c.GetKey(key)
	if dir == "" {
		return "", errors.Wrapf(ErrUploadConfiguration, "%s is not set", key)
	}

	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", errors.Wrapf(ErrUploadConfiguration, "%s (%s): %s", key, dir, err)
	}

	return filepath.Abs(expanded)
}

// CreateDirs creates any missing root directory using DirMode.
func (o *StorageOptions) CreateDirs() error {
	for _, dir := range o.rootDirs() {
		if err := os.MkdirAll(dir, o.DirMode); err != nil {
			return errors.Wrapf(ErrUploadConfiguration, "creating %s: %s", dir, err)
		}
	}

	return nil
}

// Validate fails when a root directory is missing, isn't a directory or can't be written to.
func (o *StorageOptions) Validate() error {
	for _, dir := range o.rootDirs() {
		finfo, err := os.Stat(dir)
		if err != nil {
			return errors.Wrapf(ErrUploadConfiguration, "storage directory %s: %s", dir, err)
		}

		if !finfo.IsDir() {
			return errors.Wrapf(ErrUploadConfiguration, "storage directory %s is not a directory", dir)
		}

		probe, err := os.CreateTemp(dir, ".write-probe-*")
		if err != nil {
			return errors.Wrapf(ErrUploadConfiguration, "storage directory %s is not writable: %s", dir, err)
		}
		_ = probe.Close()
		_ = os.Remove(probe.Name())
	}

	if o.ChunkSize <= 0 {
		return errors.Wrapf(ErrUploadConfiguration, "chunk size must be positive, got %d", o.ChunkSize)
	}

	return nil
}

func (o *StorageOptions) rootDirs() []string {
	return []string{o.StorageDir, o.TempDir, o.CacheDir}
}

// MaxSizeFor is the largest declared size accepted for a file type.
func (o *StorageOptions) MaxSizeFor(ft FileType) int64 {
	if ft == FileTypeResource {
		return o.MaxResourceSize
	}

	return o.MaxImageSize
}

func (o *StorageOptions) ModTempDir(modID int) string {
	return filepath.Join(o.TempDir, strconv.Itoa(modID))
}

func (o *StorageOptions) ModStorageDir(modID int) string {
	return filepath.Join(o.StorageDir, strconv.Itoa(modID))
}

func (o *StorageOptions) ModFileDir(modID int, ft FileType) string {
	return filepath.Join(o.ModStorageDir(modID), ft.dirName())
}

func (o *StorageOptions) ModCacheDir(modID int) string {
	return filepath.Join(o.CacheDir, strconv.Itoa(modID))
}

func (o *StorageOptions) String() string {
	return fmt.Sprintf("storage=%s temp=%s cache=%s chunk=%s user_quota=%s mod_quota=%s min_free=%s",
		o.StorageDir, o.TempDir, o.CacheDir,
		units.BytesSize(float64(o.ChunkSize)),
		units.BytesSize(float64(o.UserQuota)),
		units.BytesSize(float64(o.ModQuota)),
		units.BytesSize(float64(o.MinFreeSpace)))
}
