package modmodel

import "time"

// ModFile is a file permanently attached to a mod. TemporaryUUID references the upload slot the
// bytes come from until the file has been promoted into permanent storage.
type ModFile struct {
	ID            int       `json:"id"`
	UUID          string    `json:"uuid"`
	ModID         int       `json:"mod_id" gorm:"uniqueIndex:idx_mod_files_mod_type_name"`
	Type          string    `json:"type" gorm:"uniqueIndex:idx_mod_files_mod_type_name;size:32"`
	Name          string    `json:"name" gorm:"uniqueIndex:idx_mod_files_mod_type_name;size:191"`
	OriginalName  string    `json:"original_name"`
	Size          int64     `json:"size"`
	Checksum      string    `json:"checksum"`
	MimeType      string    `json:"mime_type"`
	TemporaryUUID string    `json:"-" gorm:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ModFile) TableName() string {
	return "mod_files"
}

func (f ModFile) IsPending() bool {
	return f.TemporaryUUID != ""
}
