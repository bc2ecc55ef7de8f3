package stor

import (
	"errors"

	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

type UserStor interface {
	CreateUser(user *modmodel.User) (*modmodel.User, error)
	GetUserByID(userID int) (*modmodel.User, error)
	GetUserByAPIToken(apiToken string) (*modmodel.User, error)
}

type ModStor interface {
	CreateMod(mod *modmodel.Mod) (*modmodel.Mod, error)
	GetModByID(modID int) (*modmodel.Mod, error)
	GetModIDsForUser(userID int) ([]int, error)
	UserCanModifyMod(user *modmodel.User, modID int) (bool, error)
}

type ModFileStor interface {
	CreateModFile(modFile *modmodel.ModFile) (*modmodel.ModFile, error)
	GetModFileByID(modID, fileID int) (*modmodel.ModFile, error)
	ListModFiles(modID int) ([]modmodel.ModFile, error)
	DeleteModFile(modFile *modmodel.ModFile) error
	ModFileNameExists(modID int, fileType, name string) (bool, error)
	TotalSizeForMod(modID int) (int64, error)
	TotalSizeForUser(userID int) (int64, error)
}

type Stors struct {
	UserStor    UserStor
	ModStor     ModStor
	ModFileStor ModFileStor
}

func NewGormStors(db *gorm.DB) *Stors {
	return &Stors{
		UserStor:    NewGormUserStor(db),
		ModStor:     NewGormModStor(db),
		ModFileStor: NewGormModFileStor(db),
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}
