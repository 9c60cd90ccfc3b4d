package repositories

import (
	"context"

	"gorm.io/gorm"
)

// Store 互动存储：群组、成员、滑动、匹配与聊天消息
type Store struct {
	db *gorm.DB

	Groups   *GroupRepository
	Swipes   *SwipeRepository
	Messages *MessageRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Groups:   NewGroupRepository(db),
		Swipes:   NewSwipeRepository(db),
		Messages: NewMessageRepository(db),
	}
}

// Transaction 在同一个数据库事务中执行 fn，fn 返回错误时整体回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
