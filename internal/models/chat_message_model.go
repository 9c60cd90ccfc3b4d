package models

import (
	"time"
)

// GroupChatMessage 群聊消息，只追加
type GroupChatMessage struct {
	ID              int64     `gorm:"primaryKey;autoIncrement:false" json:"id"` // snowflake
	GroupID         string    `gorm:"type:varchar(36);not null;index:idx_chat_group_created,priority:1" json:"group_id"`
	UserID          *uint     `gorm:"index" json:"user_id"` // 系统消息为空
	Content         string    `gorm:"type:text;not null" json:"content"`
	IsSystemMessage bool      `gorm:"not null" json:"is_system_message"`
	CreatedAt       time.Time `gorm:"index:idx_chat_group_created,priority:2" json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (GroupChatMessage) TableName() string {
	return "group_chat_messages"
}
