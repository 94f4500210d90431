package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/visualml/visualml_go_server/internal/api/middleware"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/response"
	"github.com/visualml/visualml_go_server/internal/service"
)

type TrainHandler struct {
	trainService    *service.TrainService
	runService      *service.RunService
	artifactService *service.ArtifactService
}

func NewTrainHandler(
	trainService *service.TrainService,
	runService *service.RunService,
	artifactService *service.ArtifactService,
) *TrainHandler {
	return &TrainHandler{
		trainService:    trainService,
		runService:      runService,
		artifactService: artifactService,
	}
}

// Enqueue 提交训练作业
// POST /api/tasks/:id/train
func (h *TrainHandler) Enqueue(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.TrainRequest
	// body 可以为空（无幂等键、非 force）
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.ParamError(c, err.Error())
		return
	}

	runID, created, err := h.trainService.Enqueue(c.Request.Context(), c.Param("id"), userID, &req)
	if err != nil {
		var quotaErr *service.QuotaRejectedError
		switch {
		case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, service.ErrAnalysisNotFound):
			response.NotFoundError(c, err.Error())
		case errors.As(err, &quotaErr):
			response.QuotaError(c, quotaErr.Reasons)
		default:
			response.ServerError(c, "")
		}
		return
	}

	if created {
		response.Created(c, &dto.TrainResponse{RunID: runID})
		return
	}
	response.Success(c, &dto.TrainResponse{RunID: runID})
}

// GetRun 单个 run 状态
// GET /api/runs/:id
func (h *TrainHandler) GetRun(c *gin.Context) {
	run, err := h.runService.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, run)
}

// GetRuns 批量 run 状态（UI 单次轮询多个 run）
// GET /api/runs?ids=a,b,c  或当前用户分页列表
func (h *TrainHandler) GetRuns(c *gin.Context) {
	if ids := c.Query("ids"); ids != "" {
		idList := strings.Split(ids, ",")
		if len(idList) > 100 {
			response.ParamError(c, "too many run ids (max 100)")
			return
		}
		runs, err := h.runService.GetMany(idList)
		if err != nil {
			response.ServerError(c, "")
			return
		}
		response.Success(c, runs)
		return
	}

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	resp, err := h.runService.ListByUser(userID, page, pageSize, status)
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, resp)
}

// Cancel 协作取消（幂等）
// POST /api/runs/:id/cancel
func (h *TrainHandler) Cancel(c *gin.Context) {
	if err := h.runService.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, service.ErrRunNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, &dto.CancelResponse{OK: true})
}

// GetArtifact 产物代理
// GET /api/runs/:id/artifact?name=...（产物名也可走通配路径
// /api/runs/:id/artifacts/*name）
func (h *TrainHandler) GetArtifact(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if name == "" {
		name = c.Query("name")
	}
	if name == "" {
		response.ParamError(c, "artifact name required")
		return
	}

	art, err := h.artifactService.Get(c.Request.Context(), c.Param("id"), name)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRunNotFound), errors.Is(err, service.ErrArtifactNotFound):
			response.NotFoundError(c, "artifact not found")
		default:
			response.ServerError(c, "")
		}
		return
	}

	if art.JSON != nil {
		response.Success(c, art.JSON)
		return
	}
	c.Data(200, art.ContentType, art.Bytes)
}
