package upload

import (
	"strings"
)

type FileType string

const (
	FileTypeResource   FileType = "resource"
	FileTypeImage      FileType = "image"
	FileTypeBackground FileType = "background"
)

// BackgroundFileName is the name every background upload is stored under.
const BackgroundFileName = "background.png"

func ParseFileType(s string) (FileType, error) {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FileTypeResource, FileTypeImage, FileTypeBackground:
		return ft, nil
	default:
		return "", ErrInvalidFileType
	}
}

func (ft FileType) String() string {
	return string(ft)
}

// dirName is the per mod storage sub directory files of this type are promoted into.
func (ft FileType) dirName() string {
	switch ft {
	case FileTypeImage:
		return "images"
	case FileTypeBackground:
		return "backgrounds"
	default:
		return "resources"
	}
}

// invalidContentErr is the error returned when content validation fails for this type.
func (ft FileType) invalidContentErr() error {
	switch ft {
	case FileTypeImage:
		return ErrInvalidImage
	case FileTypeBackground:
		return ErrInvalidBackground
	default:
		return ErrInvalidResource
	}
}
