package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/CineMatch/internal/models"
)

// GroupRepository 群组与成员仓储
type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// CreateWithCreator 创建群组并把创建者登记为 CREATOR 成员
// 实现逻辑：同一事务内插入 group_sessions 与 group_members，不存在零成员的群组
func (r *GroupRepository) CreateWithCreator(ctx context.Context, group *models.GroupSession) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		member := models.GroupMember{
			GroupID:  group.ID,
			UserID:   group.CreatorID,
			Role:     models.RoleCreator,
			IsActive: true,
			JoinedAt: group.CreatedAt,
		}
		return tx.Create(&member).Error
	})
}

// CodeExists 检查群组码是否已被占用
func (r *GroupRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupSession{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

// GetByCode 根据群组码获取群组
func (r *GroupRepository) GetByCode(ctx context.Context, code string) (*models.GroupSession, error) {
	var group models.GroupSession
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// LockByCode 获取群组并加行锁 (SELECT ... FOR UPDATE)，仅在事务中使用。
// 同一群组的滑动因此串行执行，最后两个 LIKE 并发时不会都漏判共识。
func (r *GroupRepository) LockByCode(ctx context.Context, code string) (*models.GroupSession, error) {
	var group models.GroupSession
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		Take(&group).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// GetByCommunityKey 查找社区群组，如 "genre:Action"
func (r *GroupRepository) GetByCommunityKey(ctx context.Context, key string) (*models.GroupSession, error) {
	var group models.GroupSession
	if err := r.db.WithContext(ctx).Where("community_key = ?", key).Take(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}

// GetMember 获取成员记录 (含已退出的)
func (r *GroupRepository) GetMember(ctx context.Context, groupID string, userID uint) (*models.GroupMember, error) {
	var member models.GroupMember
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Take(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// IsActiveMember 检查用户是否为群组的有效成员
func (r *GroupRepository) IsActiveMember(ctx context.Context, groupID string, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
		Count(&count).Error
	return count > 0, err
}

// AddOrReactivateMember 加入群组；已退出的成员原地恢复，不新建记录。
// 返回 true 表示本次调用改变了成员状态 (新加入或恢复)
func (r *GroupRepository) AddOrReactivateMember(ctx context.Context, groupID string, userID uint, role models.MemberRole) (bool, error) {
	existing, err := r.GetMember(ctx, groupID, userID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		member := models.GroupMember{
			GroupID:  groupID,
			UserID:   userID,
			Role:     role,
			IsActive: true,
			JoinedAt: time.Now(),
		}
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member)
		return res.RowsAffected == 1, res.Error
	case err != nil:
		return false, err
	case existing.IsActive:
		return false, nil
	}

	res := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("id = ? AND is_active = ?", existing.ID, false).
		Updates(map[string]any{"is_active": true, "joined_at": time.Now()})
	return res.RowsAffected == 1, res.Error
}

// DeactivateMember 退出群组，保留历史
func (r *GroupRepository) DeactivateMember(ctx context.Context, groupID string, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
		Update("is_active", false)
	return res.RowsAffected == 1, res.Error
}

// ActiveMemberIDs 群组当前有效成员的用户 ID，按加入顺序
func (r *GroupRepository) ActiveMemberIDs(ctx context.Context, groupID string) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("group_id = ? AND is_active = ?", groupID, true).
		Order("id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ListForUser 用户当前所在的有效群组
func (r *GroupRepository) ListForUser(ctx context.Context, userID uint) ([]models.GroupSession, error) {
	var groups []models.GroupSession
	err := r.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = group_sessions.id").
		Where("group_members.user_id = ? AND group_members.is_active = ? AND group_sessions.is_active = ?", userID, true, true).
		Order("group_sessions.created_at DESC").
		Find(&groups).Error
	return groups, err
}

// AdvanceRound 轮次 +1，返回新的轮次
func (r *GroupRepository) AdvanceRound(ctx context.Context, groupID string) (int, error) {
	err := r.db.WithContext(ctx).Model(&models.GroupSession{}).
		Where("id = ?", groupID).
		UpdateColumn("round", gorm.Expr("? + 1", clause.Column{Name: "round"})).Error
	if err != nil {
		return 0, err
	}
	var group models.GroupSession
	if err := r.db.WithContext(ctx).Select("round").Where("id = ?", groupID).Take(&group).Error; err != nil {
		return 0, err
	}
	return group.Round, nil
}
