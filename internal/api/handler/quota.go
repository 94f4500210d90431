package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/api/middleware"
	"github.com/visualml/visualml_go_server/internal/pkg/response"
	"github.com/visualml/visualml_go_server/internal/service"
)

type QuotaHandler struct {
	quotaService *service.QuotaService
	cfg          *config.QuotaConfig
}

func NewQuotaHandler(quotaService *service.QuotaService, cfg *config.QuotaConfig) *QuotaHandler {
	return &QuotaHandler{quotaService: quotaService, cfg: cfg}
}

// Get 当前用户的并发占用情况
// GET /api/quota
func (h *QuotaHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	user, global, err := h.quotaService.ActiveCounts(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gin.H{
		"user_active":       user,
		"user_max_active":   h.cfg.UserMaxActive,
		"global_active":     global,
		"global_max_active": h.cfg.GlobalMaxActive,
	})
}
