package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/multi-agent/agent-sync/pkg/errors"
	"github.com/multi-agent/agent-sync/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": gin.H{"code": "not_found", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.Any(logger.FieldError, err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "服务器内部错误"}})
}

// clientError 按 AppError code 映射 HTTP 状态。
func clientError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotConnected), errors.Is(err, apperrors.ErrNoSession):
		status = http.StatusConflict
	default:
		serverError(c, err)
		return
	}
	code := apperrors.CodeOf(err)
	if code == "" {
		code = "request_failed"
	}
	c.JSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": err.Error()}})
}
