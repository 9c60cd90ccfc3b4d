package models

import (
	"time"
)

// SwipeAction 滑动动作
type SwipeAction string

const (
	ActionLike      SwipeAction = "LIKE"
	ActionDislike   SwipeAction = "DISLIKE"
	ActionSuperLike SwipeAction = "SUPER_LIKE"
)

// Valid 判断动作是否合法
func (a SwipeAction) Valid() bool {
	switch a {
	case ActionLike, ActionDislike, ActionSuperLike:
		return true
	}
	return false
}

// GroupSwipe 用户在群组内对某部电影的当前判断，重复滑动原地更新
type GroupSwipe struct {
	ID      uint        `gorm:"primaryKey" json:"id"`
	GroupID string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_swipe_group_user_movie,priority:1" json:"group_id"`
	UserID  uint        `gorm:"not null;uniqueIndex:idx_swipe_group_user_movie,priority:2;index" json:"user_id"`
	MovieID int64       `gorm:"not null;uniqueIndex:idx_swipe_group_user_movie,priority:3" json:"movie_id"`
	Action  SwipeAction `gorm:"size:16;not null" json:"action"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (GroupSwipe) TableName() string {
	return "group_swipes"
}

// GroupMatch 全员喜欢同一部电影时创建，创建后不可撤销
type GroupMatch struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"` // snowflake
	GroupID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_match_group_movie,priority:1" json:"group_id"`
	MovieID   int64     `gorm:"not null;uniqueIndex:idx_match_group_movie,priority:2" json:"movie_id"`
	Round     int       `gorm:"not null" json:"round"`
	MatchedAt time.Time `gorm:"not null" json:"matched_at"`
}

func (GroupMatch) TableName() string {
	return "group_matches"
}

// GroupRoundCompletion 每轮只插入一次，用于保证"全员完成"事件只发一次
type GroupRoundCompletion struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GroupID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_completion_group_round,priority:1" json:"group_id"`
	Round       int       `gorm:"not null;uniqueIndex:idx_completion_group_round,priority:2" json:"round"`
	CompletedAt time.Time `gorm:"not null" json:"completed_at"`
}

func (GroupRoundCompletion) TableName() string {
	return "group_round_completions"
}
