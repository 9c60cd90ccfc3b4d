package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/services"
)

// SwipeHandler 滑动、牌组、匹配与聊天记录
type SwipeHandler struct {
	swipes *services.SwipeService
	deck   *services.DeckService
	chat   *services.ChatService
	logger *zap.Logger
}

func NewSwipeHandler(swipes *services.SwipeService, deck *services.DeckService, chat *services.ChatService, logger *zap.Logger) *SwipeHandler {
	return &SwipeHandler{
		swipes: swipes,
		deck:   deck,
		chat:   chat,
		logger: logger,
	}
}

func (h *SwipeHandler) RecordSwipe(c *gin.Context) {
	var req services.SwipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.swipes.RecordSwipe(c.Request.Context(), c.Param("code"), c.GetUint("user_id"), &req)
	if err != nil {
		fail(c, h.logger, "record swipe", err)
		return
	}
	success(c, result)
}

func (h *SwipeHandler) GetDeck(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	deck, err := h.deck.GetDeck(c.Request.Context(), c.Param("code"), c.GetUint("user_id"), limit)
	if err != nil {
		fail(c, h.logger, "get deck", err)
		return
	}
	success(c, gin.H{"movie_ids": deck})
}

func (h *SwipeHandler) GetMatches(c *gin.Context) {
	matches, err := h.swipes.GetMatches(c.Request.Context(), c.Param("code"), c.GetUint("user_id"))
	if err != nil {
		fail(c, h.logger, "get matches", err)
		return
	}
	success(c, matches)
}

func (h *SwipeHandler) GetCompletion(c *gin.Context) {
	status, err := h.swipes.GetCompletionStatus(c.Request.Context(), c.Param("code"), c.GetUint("user_id"))
	if err != nil {
		fail(c, h.logger, "get completion", err)
		return
	}
	success(c, status)
}

// ClearSwipes 仅创建者可调用
func (h *SwipeHandler) ClearSwipes(c *gin.Context) {
	result, err := h.swipes.ClearSwipes(c.Request.Context(), c.Param("code"), c.GetUint("user_id"))
	if err != nil {
		fail(c, h.logger, "clear swipes", err)
		return
	}
	success(c, result)
}

// GetMessages 聊天记录，按时间正序
func (h *SwipeHandler) GetMessages(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	messages, err := h.chat.GroupHistory(c.Request.Context(), c.Param("code"), c.GetUint("user_id"), limit)
	if err != nil {
		fail(c, h.logger, "get messages", err)
		return
	}
	success(c, messages)
}
