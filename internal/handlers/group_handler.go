package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/services"
)

// GroupHandler 群组处理器
type GroupHandler struct {
	groupService *services.GroupService
	logger       *zap.Logger
}

func NewGroupHandler(groupService *services.GroupService, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		groupService: groupService,
		logger:       logger,
	}
}

// CreateGroup 创建群组，名称可省略
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req services.CreateGroupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	group, err := h.groupService.CreateGroup(c.Request.Context(), c.GetUint("user_id"), &req)
	if err != nil {
		fail(c, h.logger, "create group", err)
		return
	}
	success(c, group)
}

// JoinGroup 通过群组码加入，重复加入无副作用
func (h *GroupHandler) JoinGroup(c *gin.Context) {
	var req services.JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	group, err := h.groupService.JoinGroup(c.Request.Context(), req.Code, c.GetUint("user_id"))
	if err != nil {
		fail(c, h.logger, "join group", err)
		return
	}
	success(c, group)
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	if err := h.groupService.LeaveGroup(c.Request.Context(), c.Param("code"), c.GetUint("user_id")); err != nil {
		fail(c, h.logger, "leave group", err)
		return
	}
	success(c, nil)
}

// ListGroups 当前用户所在的群组
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groupService.ListGroups(c.Request.Context(), c.GetUint("user_id"))
	if err != nil {
		fail(c, h.logger, "list groups", err)
		return
	}
	success(c, groups)
}

// JoinCommunity 加入某个类型的社区群组，不存在则创建
func (h *GroupHandler) JoinCommunity(c *gin.Context) {
	var req services.JoinCommunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	group, err := h.groupService.JoinCommunity(c.Request.Context(), req.Genre, c.GetUint("user_id"))
	if err != nil {
		fail(c, h.logger, "join community", err)
		return
	}
	success(c, group)
}
