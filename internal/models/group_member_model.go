package models

import (
	"time"
)

// MemberRole 成员角色
type MemberRole string

const (
	RoleCreator MemberRole = "CREATOR"
	RoleMember  MemberRole = "MEMBER"
)

// GroupMember 群组成员。退出时 IsActive = false，重新加入时复用同一行
type GroupMember struct {
	ID       uint       `gorm:"primaryKey" json:"id"`
	GroupID  string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_group_user" json:"group_id"`
	UserID   uint       `gorm:"not null;uniqueIndex:idx_group_user;index" json:"user_id"`
	Role     MemberRole `gorm:"size:16;not null" json:"role"`
	IsActive bool       `gorm:"not null" json:"is_active"`
	JoinedAt time.Time  `json:"joined_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (GroupMember) TableName() string {
	return "group_members"
}
