package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/CineMatch/internal/models"
)

// SwipeOutcome Upsert 的结果
type SwipeOutcome string

const (
	SwipeCreated   SwipeOutcome = "created"
	SwipeUpdated   SwipeOutcome = "updated"
	SwipeUnchanged SwipeOutcome = "unchanged"
)

// SwipeRepository 滑动、匹配与轮次完成记录
type SwipeRepository struct {
	db *gorm.DB
}

func NewSwipeRepository(db *gorm.DB) *SwipeRepository {
	return &SwipeRepository{db: db}
}

// Upsert 记录用户对电影的当前判断，同一 (group, user, movie) 只保留一行
func (r *SwipeRepository) Upsert(ctx context.Context, swipe *models.GroupSwipe) (SwipeOutcome, error) {
	db := r.db.WithContext(ctx)

	var existing models.GroupSwipe
	err := db.Where("group_id = ? AND user_id = ? AND movie_id = ?", swipe.GroupID, swipe.UserID, swipe.MovieID).
		Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(swipe).Error; err != nil {
			return "", err
		}
		return SwipeCreated, nil
	case err != nil:
		return "", err
	}

	if existing.Action == swipe.Action {
		*swipe = existing
		return SwipeUnchanged, nil
	}

	existing.Action = swipe.Action
	if err := db.Model(&existing).Updates(map[string]any{"action": swipe.Action, "updated_at": time.Now()}).Error; err != nil {
		return "", err
	}
	*swipe = existing
	return SwipeUpdated, nil
}

// LikerIDs 在 userIDs 范围内，当前对该电影为 LIKE 的用户
func (r *SwipeRepository) LikerIDs(ctx context.Context, groupID string, movieID int64, userIDs []uint) ([]uint, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var ids []uint
	err := r.db.WithContext(ctx).Model(&models.GroupSwipe{}).
		Where("group_id = ? AND movie_id = ? AND action = ? AND user_id IN ?", groupID, movieID, models.ActionLike, userIDs).
		Distinct().
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

type userCount struct {
	UserID uint
	Total  int64
}

// CountsByUser 每个用户在群组中的滑动数 (只统计 userIDs 内的用户)
func (r *SwipeRepository) CountsByUser(ctx context.Context, groupID string, userIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}

	var rows []userCount
	err := r.db.WithContext(ctx).Model(&models.GroupSwipe{}).
		Select("user_id, COUNT(*) AS total").
		Where("group_id = ? AND user_id IN ?", groupID, userIDs).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.UserID] = row.Total
	}
	return counts, nil
}

// SwipedMovieIDs 群组内被滑过的电影
func (r *SwipeRepository) SwipedMovieIDs(ctx context.Context, groupID string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.GroupSwipe{}).
		Where("group_id = ?", groupID).
		Distinct().
		Pluck("movie_id", &ids).Error
	return ids, err
}

// SwipedMovieIDsByUsers 这些用户在任意群组中滑过的电影
func (r *SwipeRepository) SwipedMovieIDsByUsers(ctx context.Context, userIDs []uint) ([]int64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.GroupSwipe{}).
		Where("user_id IN ?", userIDs).
		Distinct().
		Pluck("movie_id", &ids).Error
	return ids, err
}

// LikedMovieIDs 群组内被喜欢 (LIKE) 过的电影，次数多的在前
func (r *SwipeRepository) LikedMovieIDs(ctx context.Context, groupID string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.GroupSwipe{}).
		Select("movie_id").
		Where("group_id = ? AND action = ?", groupID, models.ActionLike).
		Group("movie_id").
		Order("COUNT(*) DESC, movie_id").
		Pluck("movie_id", &ids).Error
	return ids, err
}

// DeleteForGroup 清空群组的滑动记录，开始新一轮。匹配记录保留
func (r *SwipeRepository) DeleteForGroup(ctx context.Context, groupID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&models.GroupSwipe{})
	return res.RowsAffected, res.Error
}

// CreateMatch 插入匹配记录，唯一索引冲突时什么都不做。
// 返回 true 表示本次调用创建了记录，只有它可以发布匹配事件
func (r *SwipeRepository) CreateMatch(ctx context.Context, match *models.GroupMatch) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "movie_id"}},
			DoNothing: true,
		}).
		Create(match)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListMatches 群组的全部匹配，最新的在前
func (r *SwipeRepository) ListMatches(ctx context.Context, groupID string) ([]models.GroupMatch, error) {
	var matches []models.GroupMatch
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("matched_at DESC, id DESC").
		Find(&matches).Error
	return matches, err
}

// CountMatches 群组的匹配数
func (r *SwipeRepository) CountMatches(ctx context.Context, groupID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.GroupMatch{}).Where("group_id = ?", groupID).Count(&count).Error
	return count, err
}

// MatchedMovieIDs 群组已匹配的电影
func (r *SwipeRepository) MatchedMovieIDs(ctx context.Context, groupID string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.GroupMatch{}).Where("group_id = ?", groupID).Pluck("movie_id", &ids).Error
	return ids, err
}

// MarkRoundComplete 记录某一轮已全员完成，与 CreateMatch 相同的先写者胜出语义
func (r *SwipeRepository) MarkRoundComplete(ctx context.Context, groupID string, round int) (bool, error) {
	completion := models.GroupRoundCompletion{
		GroupID:     groupID,
		Round:       round,
		CompletedAt: time.Now(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "round"}},
			DoNothing: true,
		}).
		Create(&completion)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
