package modmodel

import "time"

type User struct {
	ID        int    `json:"id"`
	UUID      string `json:"uuid"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	ApiToken  string `json:"-" gorm:"index"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
