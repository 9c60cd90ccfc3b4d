package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/models"
)

// MessageRepository 群聊消息仓储
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 追加一条消息
func (r *MessageRepository) Create(ctx context.Context, msg *models.GroupChatMessage) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// Recent 最近 limit 条消息，按时间正序返回 (旧 -> 新)
func (r *MessageRepository) Recent(ctx context.Context, groupID string, limit int) ([]models.GroupChatMessage, error) {
	var msgs []models.GroupChatMessage
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("group_id = ?", groupID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
