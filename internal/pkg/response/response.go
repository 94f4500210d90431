package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 错误响应体。与原服务保持一致：{"detail": "..."}；
// 配额拒绝时附带 reasons 列表。
type ErrorBody struct {
	Detail  string   `json:"detail"`
	Reasons []string `json:"reasons,omitempty"`
}

// Success 成功响应：直接返回数据本体
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created 创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// Error 任意状态码的错误响应
func Error(c *gin.Context, status int, detail string) {
	c.JSON(status, ErrorBody{Detail: detail})
}

// ParamError 参数错误
func ParamError(c *gin.Context, detail string) {
	if detail == "" {
		detail = "invalid request"
	}
	Error(c, http.StatusBadRequest, detail)
}

// AuthError 认证失败
func AuthError(c *gin.Context, detail string) {
	if detail == "" {
		detail = "unauthorized"
	}
	Error(c, http.StatusUnauthorized, detail)
}

// PermissionError 权限不足
func PermissionError(c *gin.Context, detail string) {
	if detail == "" {
		detail = "forbidden"
	}
	Error(c, http.StatusForbidden, detail)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, detail string) {
	if detail == "" {
		detail = "not found"
	}
	Error(c, http.StatusNotFound, detail)
}

// QuotaError 准入拒绝，429 + 拒绝原因列表
func QuotaError(c *gin.Context, reasons []string) {
	detail := "quota exceeded"
	if len(reasons) > 0 {
		detail = reasons[0]
	}
	c.JSON(http.StatusTooManyRequests, ErrorBody{Detail: detail, Reasons: reasons})
}

// ServerError 服务器错误
func ServerError(c *gin.Context, detail string) {
	if detail == "" {
		detail = "internal server error"
	}
	Error(c, http.StatusInternalServerError, detail)
}
