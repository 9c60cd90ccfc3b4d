package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/models"
)

const (
	userCacheKeyPrefix = "user:info:" // Redis String, 值是 user JSON
	userCacheTTL       = 1 * time.Hour
)

type UserRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewUserRepository(db *gorm.DB, redis *redis.Client) *UserRepository {
	return &UserRepository{db: db, redis: redis}
}

func userCacheKey(id uint) string {
	return fmt.Sprintf("%s%d", userCacheKeyPrefix, id)
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID 根据 ID 获取用户 (带缓存)
func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	users, err := r.GetByIDs(ctx, []uint{id})
	if err != nil {
		return nil, err
	}
	user, ok := users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

// GetByUsername 根据用户名获取用户
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ExistsByUsernameOrEmail 注册前检查用户名或邮箱是否已存在
func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	return count > 0, err
}

// GetByIDs 批量获取用户信息 (带缓存)
// 实现逻辑：先 MGet Redis，缺失的查库后用 Pipeline 回填
func (r *UserRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]*models.User, error) {
	result := make(map[uint]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	missingIDs := ids
	if r.redis != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = userCacheKey(id)
		}

		if vals, err := r.redis.MGet(ctx, keys...).Result(); err == nil {
			missingIDs = missingIDs[:0:0]
			for i, val := range vals {
				var user models.User
				if s, ok := val.(string); ok && json.Unmarshal([]byte(s), &user) == nil {
					result[ids[i]] = &user
					continue
				}
				missingIDs = append(missingIDs, ids[i])
			}
		}
	}

	if len(missingIDs) == 0 {
		return result, nil
	}

	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", missingIDs).Find(&users).Error; err != nil {
		return result, err
	}

	var pipe redis.Pipeliner
	if r.redis != nil {
		pipe = r.redis.Pipeline()
	}
	for i := range users {
		u := &users[i]
		result[u.ID] = u
		if pipe == nil {
			continue
		}
		if data, err := json.Marshal(u); err == nil {
			pipe.Set(ctx, userCacheKey(u.ID), data, userCacheTTL)
		}
	}
	if pipe != nil {
		// 缓存回填失败不影响结果
		_, _ = pipe.Exec(ctx)
	}
	return result, nil
}
