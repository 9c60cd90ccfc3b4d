package models

import (
	"time"
)

// User 用户模型，只保留匹配引擎需要的字段
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Username     string `gorm:"column:username;size:64;uniqueIndex;not null" json:"username"`
	Email        string `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
