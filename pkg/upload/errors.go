package upload

import (
	"errors"
)

// Configuration and operations problems. Never the user's fault.
var ErrUploadConfiguration = errors.New("upload configuration error")

// Quota rejections.
var (
	ErrInsufficientStorageSpace = errors.New("insufficient storage space")
	ErrUserQuotaReached         = errors.New("user quota reached")
	ErrModQuotaReached          = errors.New("mod quota reached")
)

// Content rejections. The upload has to be restarted with a fresh slot.
var (
	ErrInvalidResource   = errors.New("invalid resource archive")
	ErrInvalidImage      = errors.New("invalid image")
	ErrInvalidBackground = errors.New("invalid background image")
)

// Protocol violations: client bugs or tampering.
var (
	ErrInvalidFileType = errors.New("invalid file type")
	ErrInvalidSize     = errors.New("invalid file size")
	ErrFileTooLarge    = errors.New("file too large")
	ErrSlotNotFound    = errors.New("upload slot not found")
	ErrSlotCompleted   = errors.New("upload slot already complete")
	ErrSlotIncomplete  = errors.New("upload slot not complete")
	ErrSlotBusy        = errors.New("upload slot busy")
	ErrChunkTooLarge   = errors.New("chunk larger than chunk size")
	ErrChunkOutOfOrder = errors.New("chunk out of order")
	ErrSizeMismatch    = errors.New("received bytes do not match declared size")
	ErrModFileNotFound = errors.New("mod file not found")
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindQuota
	KindContent
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindQuota:
		return "quota"
	case KindContent:
		return "content"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

var errorKinds = map[error]ErrorKind{
	ErrUploadConfiguration:      KindConfiguration,
	ErrInsufficientStorageSpace: KindQuota,
	ErrUserQuotaReached:         KindQuota,
	ErrModQuotaReached:          KindQuota,
	ErrInvalidResource:          KindContent,
	ErrInvalidImage:             KindContent,
	ErrInvalidBackground:        KindContent,
	ErrInvalidFileType:          KindProtocol,
	ErrInvalidSize:              KindProtocol,
	ErrFileTooLarge:             KindProtocol,
	ErrSlotNotFound:             KindProtocol,
	ErrSlotCompleted:            KindProtocol,
	ErrSlotIncomplete:           KindProtocol,
	ErrSlotBusy:                 KindProtocol,
	ErrChunkTooLarge:            KindProtocol,
	ErrChunkOutOfOrder:          KindProtocol,
	ErrSizeMismatch:             KindProtocol,
	ErrModFileNotFound:          KindProtocol,
}

// KindOf classifies err (or anything it wraps) so callers can choose how to report it.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	for sentinel, kind := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	return KindUnknown
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
