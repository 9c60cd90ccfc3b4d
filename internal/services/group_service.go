package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/catalog"
	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
	"github.com/Gopher0727/CineMatch/internal/utils"
)

// ConnectionEvictor 断开用户在某个房间的实时连接
type ConnectionEvictor interface {
	Kick(room events.Room, userID uint) int
}

// GroupService 群组的创建、加入、退出
type GroupService struct {
	store        *repositories.Store
	evictor      ConnectionEvictor
	users        *repositories.UserRepository
	chat         *ChatService
	genres       *catalog.Genres
	codeLength   int
	codeAttempts int
	logger       *zap.Logger
}

func NewGroupService(store *repositories.Store, users *repositories.UserRepository, chat *ChatService, genres *catalog.Genres, codeLength, codeAttempts int, logger *zap.Logger) *GroupService {
	return &GroupService{
		store:        store,
		users:        users,
		chat:         chat,
		genres:       genres,
		codeLength:   codeLength,
		codeAttempts: codeAttempts,
		logger:       logger,
	}
}

// UseEvictor 退出群组时断开该用户的聊天与匹配连接
func (s *GroupService) UseEvictor(e ConnectionEvictor) {
	s.evictor = e
}

type CreateGroupRequest struct {
	Name string `json:"name" binding:"max=100"`
}

type JoinGroupRequest struct {
	Code string `json:"code" binding:"required,max=16"`
}

type JoinCommunityRequest struct {
	Genre string `json:"genre" binding:"required"`
}

type GroupResponse struct {
	GroupID     string           `json:"group_id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Kind        models.GroupKind `json:"kind"`
	GenreFilter string           `json:"genre_filter,omitempty"`
	Round       int              `json:"round"`
	CreatorID   uint             `json:"creator_id"`
	CreatedAt   time.Time        `json:"created_at"`
}

func toGroupResponse(g *models.GroupSession) *GroupResponse {
	return &GroupResponse{
		GroupID:     g.ID,
		Code:        g.Code,
		Name:        g.Name,
		Kind:        g.Kind,
		GenreFilter: g.GenreFilter,
		Round:       g.Round,
		CreatorID:   g.CreatorID,
		CreatedAt:   g.CreatedAt,
	}
}

// CreateGroup 创建私有群组，创建者在同一事务中成为第一个成员
// 实现逻辑：随机生成群组码，直到没有冲突或达到重试上限；并发下插入冲突同样视为碰撞重试
func (s *GroupService) CreateGroup(ctx context.Context, creatorID uint, req *CreateGroupRequest) (*GroupResponse, error) {
	group, err := s.createWithUniqueCode(ctx, func(code string) *models.GroupSession {
		return &models.GroupSession{
			ID:        uuid.NewString(),
			Code:      code,
			Name:      req.Name,
			CreatorID: creatorID,
			Kind:      models.GroupKindPrivate,
			IsActive:  true,
			Round:     1,
		}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group created", zap.String("group_code", group.Code), zap.Uint("creator_id", creatorID))
	return toGroupResponse(group), nil
}

func (s *GroupService) createWithUniqueCode(ctx context.Context, build func(code string) *models.GroupSession) (*models.GroupSession, error) {
	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code, err := utils.GenerateGroupCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("generate group code: %w", err)
		}

		exists, err := s.store.Groups.CodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("check group code: %w", err)
		}
		if exists {
			continue
		}

		group := build(code)
		err = s.store.Groups.CreateWithCreator(ctx, group)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create group: %w", err)
		}
		return group, nil
	}
	return nil, ErrCodeExhausted
}

// JoinGroup 通过群组码加入；已是有效成员时直接返回，退出过的成员恢复原记录
func (s *GroupService) JoinGroup(ctx context.Context, code string, userID uint) (*GroupResponse, error) {
	group, err := activeGroup(ctx, s.store, code)
	if err != nil {
		return nil, err
	}
	if err := s.join(ctx, group, userID); err != nil {
		return nil, err
	}
	return toGroupResponse(group), nil
}

func (s *GroupService) join(ctx context.Context, group *models.GroupSession, userID uint) error {
	changed, err := s.store.Groups.AddOrReactivateMember(ctx, group.ID, userID, models.RoleMember)
	if err != nil {
		return fmt.Errorf("join group: %w", err)
	}
	if !changed {
		return nil
	}

	s.logger.Info("member joined", zap.String("group_code", group.Code), zap.Uint("user_id", userID))
	if user, err := s.users.GetByID(ctx, userID); err == nil {
		if err := s.chat.PostSystemMessage(ctx, group, user.Username+" joined the group"); err != nil {
			s.logger.Warn("post join message failed", zap.String("group_code", group.Code), zap.Error(err))
		}
	}
	return nil
}

// LeaveGroup 退出群组，成员记录保留
func (s *GroupService) LeaveGroup(ctx context.Context, code string, userID uint) error {
	group, err := activeGroup(ctx, s.store, code)
	if err != nil {
		return err
	}
	left, err := s.store.Groups.DeactivateMember(ctx, group.ID, userID)
	if err != nil {
		return fmt.Errorf("leave group: %w", err)
	}
	if !left {
		return ErrNotMember
	}
	s.logger.Info("member left", zap.String("group_code", group.Code), zap.Uint("user_id", userID))

	if s.evictor != nil {
		kicked := s.evictor.Kick(events.ChatRoom(group.Code), userID) + s.evictor.Kick(events.MatchRoom(group.Code), userID)
		if kicked > 0 {
			s.logger.Debug("closed connections of departed member", zap.String("group_code", group.Code), zap.Int("connections", kicked))
		}
	}
	return nil
}

// JoinCommunity 加入某个类型的社区群组，不存在时创建
func (s *GroupService) JoinCommunity(ctx context.Context, genre string, userID uint) (*GroupResponse, error) {
	if _, ok := s.genres.ID(genre); !ok {
		return nil, newValidationError("genre", "unknown genre "+genre)
	}
	key := "genre:" + genre

	group, err := s.store.Groups.GetByCommunityKey(ctx, key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		group, err = s.createWithUniqueCode(ctx, func(code string) *models.GroupSession {
			return &models.GroupSession{
				ID:           uuid.NewString(),
				Code:         code,
				Name:         genre + " Community",
				CreatorID:    userID,
				Kind:         models.GroupKindCommunity,
				IsActive:     true,
				IsPublic:     true,
				GenreFilter:  genre,
				CommunityKey: &key,
				Round:        1,
			}
		})
		if errors.Is(err, ErrCodeExhausted) {
			// 另一个请求已经创建了该社区
			group, err = s.store.Groups.GetByCommunityKey(ctx, key)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("community %s: %w", key, err)
	}
	if !group.IsActive {
		return nil, ErrGroupNotFound
	}

	if err := s.join(ctx, group, userID); err != nil {
		return nil, err
	}
	return toGroupResponse(group), nil
}

// ListGroups 用户所在的有效群组
func (s *GroupService) ListGroups(ctx context.Context, userID uint) ([]*GroupResponse, error) {
	groups, err := s.store.Groups.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	resp := make([]*GroupResponse, len(groups))
	for i := range groups {
		resp[i] = toGroupResponse(&groups[i])
	}
	return resp, nil
}

// Authorize 校验用户是群组的有效成员，返回群组
func (s *GroupService) Authorize(ctx context.Context, code string, userID uint) (*models.GroupSession, error) {
	return memberGroup(ctx, s.store, code, userID)
}
