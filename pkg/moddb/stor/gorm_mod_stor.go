package stor

import (
	"fmt"

	"github.com/gosimple/slug"
	"github.com/hashicorp/go-uuid"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"gorm.io/gorm"
)

type GormModStor struct {
	db *gorm.DB
}

func NewGormModStor(db *gorm.DB) *GormModStor {
	return &GormModStor{db: db}
}

func (s *GormModStor) CreateMod(mod *modmodel.Mod) (*modmodel.Mod, error) {
	var err error

	if mod.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	slugOfName := slug.Make(mod.Name)

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		// Collisions on the slug get an incrementing integer appended until the slug is unique.
		mod.Slug = slugOfName
		for slugNext := 1; ; slugNext++ {
			var count int64
			if err := tx.Model(&modmodel.Mod{}).Where("slug = ?", mod.Slug).Count(&count).Error; err != nil {
				return err
			}

			if count == 0 {
				break
			}

			mod.Slug = fmt.Sprintf("%s-%d", slugOfName, slugNext)
		}

		return tx.Create(mod).Error
	})

	return mod, err
}

func (s *GormModStor) GetModByID(modID int) (*modmodel.Mod, error) {
	var mod modmodel.Mod
	if err := s.db.Preload("Owner").First(&mod, modID).Error; err != nil {
		return nil, notFound(err)
	}

	return &mod, nil
}

func (s *GormModStor) GetModIDsForUser(userID int) ([]int, error) {
	var ids []int
	err := s.db.Model(&modmodel.Mod{}).
		Where("owner_id = ?", userID).
		Pluck("id", &ids).Error
	return ids, err
}

// UserCanModifyMod is true when the user owns the mod or is an administrator.
func (s *GormModStor) UserCanModifyMod(user *modmodel.User, modID int) (bool, error) {
	mod, err := s.GetModByID(modID)
	if err != nil {
		return false, err
	}

	return mod.CanBeModifiedBy(user), nil
}
