package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
)

// activeGroup 按群组码获取有效群组
func activeGroup(ctx context.Context, store *repositories.Store, code string) (*models.GroupSession, error) {
	group, err := store.Groups.GetByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", code, err)
	}
	if !group.IsActive {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// memberGroup 获取群组并校验 userID 是有效成员
func memberGroup(ctx context.Context, store *repositories.Store, code string, userID uint) (*models.GroupSession, error) {
	group, err := activeGroup(ctx, store, code)
	if err != nil {
		return nil, err
	}
	ok, err := store.Groups.IsActiveMember(ctx, group.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, ErrNotMember
	}
	return group, nil
}
