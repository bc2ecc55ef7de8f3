package stor

import (
	"github.com/hashicorp/go-uuid"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"gorm.io/gorm"
)

// GormModFileStor is usually created on a transaction handle (NewGormModFileStor(tx)) when used as
// part of a mod save, so that reads see the rows the transaction has written.
type GormModFileStor struct {
	db *gorm.DB
}

func NewGormModFileStor(db *gorm.DB) *GormModFileStor {
	return &GormModFileStor{db: db}
}

func (s *GormModFileStor) CreateModFile(modFile *modmodel.ModFile) (*modmodel.ModFile, error) {
	var err error
	if modFile.UUID == "" {
		if modFile.UUID, err = uuid.GenerateUUID(); err != nil {
			return nil, err
		}
	}

	if err := s.db.Create(modFile).Error; err != nil {
		return nil, err
	}

	return modFile, nil
}

func (s *GormModFileStor) GetModFileByID(modID, fileID int) (*modmodel.ModFile, error) {
	var modFile modmodel.ModFile
	err := s.db.Where("mod_id = ?", modID).
		Where("id = ?", fileID).
		First(&modFile).Error
	if err != nil {
		return nil, notFound(err)
	}

	return &modFile, nil
}

func (s *GormModFileStor) ListModFiles(modID int) ([]modmodel.ModFile, error) {
	var files []modmodel.ModFile
	err := s.db.Where("mod_id = ?", modID).
		Order("type, name").
		Find(&files).Error
	return files, err
}

func (s *GormModFileStor) DeleteModFile(modFile *modmodel.ModFile) error {
	return s.db.Delete(&modmodel.ModFile{}, modFile.ID).Error
}

func (s *GormModFileStor) ModFileNameExists(modID int, fileType, name string) (bool, error) {
	var count int64
	err := s.db.Model(&modmodel.ModFile{}).
		Where("mod_id = ?", modID).
		Where("type = ?", fileType).
		Where("name = ?", name).
		Count(&count).Error
	return count != 0, err
}

func (s *GormModFileStor) TotalSizeForMod(modID int) (int64, error) {
	var total int64
	err := s.db.Model(&modmodel.ModFile{}).
		Where("mod_id = ?", modID).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// TotalSizeForUser sums the size of every file in every mod the user owns.
func (s *GormModFileStor) TotalSizeForUser(userID int) (int64, error) {
	var total int64
	err := s.db.Model(&modmodel.ModFile{}).
		Joins("JOIN mods ON mods.id = mod_files.mod_id").
		Where("mods.owner_id = ?", userID).
		Select("COALESCE(SUM(mod_files.size), 0)").
		Scan(&total).Error
	return total, err
}
