package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/visualml/visualml_go_server/internal/pkg/jwt"
	"github.com/visualml/visualml_go_server/internal/pkg/response"
)

const (
	UserIDKey   = "userID"
	UserRoleKey = "userRole"

	// InternalUserID 内网免认证请求使用的虚拟主体
	InternalUserID = "internal"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// Auth JWT 认证中间件。bypassInternal 为 true 时，来自回环/内网地址的
// 请求即使没有携带 token 也放行，并以 internal 管理员主体执行。
func Auth(jwtSecret string, bypassInternal bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if bypassInternal && isInternalAddr(c.ClientIP()) {
				c.Set(UserIDKey, InternalUserID)
				c.Set(UserRoleKey, RoleAdmin)
				c.Next()
				return
			}
			response.AuthError(c, "missing credentials")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "malformed authorization header")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserRoleKey, claims.Role)
		c.Next()
	}
}

// RequireAdmin 仅 admin 主体可访问，必须挂在 Auth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, _ := c.Get(UserRoleKey); role != RoleAdmin {
			response.PermissionError(c, "admin role required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

// GetUserRole 从上下文获取用户角色
func GetUserRole(c *gin.Context) string {
	role, _ := c.Get(UserRoleKey)
	s, _ := role.(string)
	return s
}

// IsAdmin 当前主体是否为管理员（含内网虚拟主体）
func IsAdmin(c *gin.Context) bool {
	return GetUserRole(c) == RoleAdmin
}

// isInternalAddr 回环或 RFC1918 私有地址
func isInternalAddr(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
