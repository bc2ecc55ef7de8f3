package modmodel

import "time"

type Mod struct {
	ID        int       `json:"id"`
	UUID      string    `json:"uuid"`
	Slug      string    `json:"slug" gorm:"uniqueIndex;size:191"`
	Name      string    `json:"name"`
	OwnerID   int       `json:"owner_id" gorm:"index"`
	Owner     *User     `json:"owner,omitempty" gorm:"foreignKey:OwnerID;references:ID"`
	Files     []ModFile `json:"files,omitempty" gorm:"foreignKey:ModID;references:ID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanBeModifiedBy is the ownership rule the upload actions rely on.
func (m Mod) CanBeModifiedBy(user *User) bool {
	if user == nil {
		return false
	}

	return user.IsAdmin || user.ID == m.OwnerID
}
