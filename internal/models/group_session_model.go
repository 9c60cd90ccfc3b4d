package models

import (
	"time"
)

// GroupKind 群组类型
type GroupKind string

const (
	GroupKindPrivate   GroupKind = "PRIVATE"
	GroupKindCommunity GroupKind = "COMMUNITY"
)

// GroupSession 一起滑动选片的群组。停用是逻辑删除 (IsActive = false)，不做物理删除
type GroupSession struct {
	ID   string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Code string `gorm:"size:16;uniqueIndex;not null" json:"code"`

	Name         string    `gorm:"size:100" json:"name"`
	CreatorID    uint      `gorm:"not null;index" json:"creator_id"`
	Kind         GroupKind `gorm:"size:16;not null" json:"kind"`
	IsActive     bool      `gorm:"not null" json:"is_active"`
	IsPublic     bool      `gorm:"not null" json:"is_public"`
	GenreFilter  string    `gorm:"size:50" json:"genre_filter,omitempty"` // 仅 COMMUNITY
	CommunityKey *string   `gorm:"size:100;uniqueIndex" json:"-"`        // 如 "genre:Action"
	Round        int       `gorm:"not null" json:"round"`                // 清空滑动时 +1

	Creator *User         `gorm:"foreignKey:CreatorID" json:"-"`
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GroupSession) TableName() string {
	return "group_sessions"
}
