package upload

import (
	"archive/zip"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var supportedImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp"}

// ContentValidator checks a fully received file against its declared type. Resources must be
// structurally valid zip archives and images must decode completely.
type ContentValidator struct {
	maxPixels int64
}

func NewContentValidator(maxPixels int64) *ContentValidator {
	return &ContentValidator{maxPixels: maxPixels}
}

// Validate returns nil or the content error of the type (ErrInvalidResource, ErrInvalidImage or
// ErrInvalidBackground) wrapped with the reason.
func (v *ContentValidator) Validate(path string, ft FileType) error {
	var err error
	switch ft {
	case FileTypeResource:
		err = validateZip(path)
	case FileTypeImage, FileTypeBackground:
		err = v.validateImage(path)
	default:
		return ErrInvalidFileType
	}

	if err != nil {
		return errors.Wrapf(ft.invalidContentErr(), "%s", err)
	}

	return nil
}

func validateZip(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	// Opening each entry checks its local header against the central directory.
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return errors.Wrapf(err, "entry %s", f.Name)
		}
		_ = rc.Close()
	}

	return nil
}

func (v *ContentValidator) validateImage(path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return err
	}

	if !mimetype.EqualsAny(mtype.String(), supportedImageTypes...) {
		return errors.Errorf("unsupported image type %s", mtype.String())
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return err
	}

	pixels := int64(cfg.Width) * int64(cfg.Height)
	if pixels == 0 {
		return errors.New("image has no pixels")
	}

	if v.maxPixels > 0 && pixels > v.maxPixels {
		return errors.Errorf("image is %dx%d, larger than allowed", cfg.Width, cfg.Height)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	_, _, err = image.Decode(f)
	return err
}

// DetectMimeType sniffs the content type of a file, falling back to application/octet-stream.
func DetectMimeType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}

	return mtype.String()
}
