package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/services"
)

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    status,
		"message": message,
	})
}

// statusOf 服务层错误到 HTTP 状态码
func statusOf(err error) int {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, services.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotMember), errors.Is(err, services.ErrNotCreator):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail 5xx 只记日志，不把内部错误返回给调用方
func fail(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.Error(op+" failed",
			zap.String("path", c.FullPath()),
			zap.Uint("user_id", c.GetUint("user_id")),
			zap.Error(err),
		)
		abort(c, status, "internal server error")
		return
	}
	abort(c, status, err.Error())
}

func badRequest(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, err.Error())
}

// queryLimit 解析 ?limit=，缺省为 0 交给服务层决定
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, &services.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
	}
	return limit, nil
}
