package stor

import (
	"github.com/gosimple/slug"
	"github.com/hashicorp/go-uuid"
	"github.com/modvault/modvault/pkg/moddb/modmodel"
	"gorm.io/gorm"
)

type GormUserStor struct {
	db *gorm.DB
}

func NewGormUserStor(db *gorm.DB) *GormUserStor {
	return &GormUserStor{db: db}
}

func (s *GormUserStor) CreateUser(user *modmodel.User) (*modmodel.User, error) {
	var err error
	if user.UUID, err = uuid.GenerateUUID(); err != nil {
		return nil, err
	}

	if user.Slug == "" {
		user.Slug = slug.Make(user.Name)
	}

	err = WithTxRetry(s.db, func(tx *gorm.DB) error {
		return tx.Create(user).Error
	})

	return user, err
}

func (s *GormUserStor) GetUserByID(userID int) (*modmodel.User, error) {
	var user modmodel.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, notFound(err)
	}

	return &user, nil
}

func (s *GormUserStor) GetUserByAPIToken(apiToken string) (*modmodel.User, error) {
	var user modmodel.User
	if apiToken == "" {
		return nil, ErrNotFound
	}

	if err := s.db.Where("api_token = ?", apiToken).First(&user).Error; err != nil {
		return nil, notFound(err)
	}

	return &user, nil
}
