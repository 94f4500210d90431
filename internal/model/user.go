package model

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        *string   `gorm:"size:100;uniqueIndex" json:"email,omitempty"`
	Name         string    `gorm:"size:100" json:"name"`
	Role         string    `gorm:"size:20;default:user" json:"role"`
	PasswordHash *string   `gorm:"size:255" json:"-"`
	GithubID     *string   `gorm:"column:github_id;size:50;uniqueIndex" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
