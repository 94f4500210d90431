package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/visualml/visualml_go_server/internal/api/middleware"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/response"
	"github.com/visualml/visualml_go_server/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register 邮箱注册
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Register(&req)
	if err != nil {
		if errors.Is(err, service.ErrEmailExists) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Created(c, resp)
}

// Login 邮箱登录
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Login(&req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.AuthError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, resp)
}

// Me 当前用户信息
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	// 内网免认证主体没有用户记录
	if userID == middleware.InternalUserID {
		response.Success(c, &dto.UserInfo{ID: userID, Name: "internal", Role: middleware.RoleAdmin})
		return
	}

	info, err := h.authService.GetUser(userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, info)
}

// GithubAuth 跳转到 GitHub 授权页
// GET /api/auth/github?redirect_uri=...
func (h *AuthHandler) GithubAuth(c *gin.Context) {
	authURL, err := h.authService.GithubAuthURL(c.Request.Context(), c.Query("redirect_uri"))
	if err != nil {
		response.ServerError(c, "")
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, authURL)
}

// GithubCallback GitHub OAuth 回调
// GET /api/auth/github/callback?code=...&state=...
func (h *AuthHandler) GithubCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		response.ParamError(c, "missing code or state")
		return
	}

	resp, redirectURI, err := h.authService.GithubCallback(c.Request.Context(), code, state)
	if err != nil {
		response.AuthError(c, "github authentication failed")
		return
	}

	if redirectURI != "" {
		c.Redirect(http.StatusTemporaryRedirect, redirectURI+"#token="+resp.AccessToken)
		return
	}
	response.Success(c, resp)
}
