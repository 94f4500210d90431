package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/response"
	"github.com/visualml/visualml_go_server/internal/service"
)

type CatalogHandler struct {
	catalogService *service.CatalogService
}

func NewCatalogHandler(catalogService *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

// CreateProject 创建项目
// POST /api/projects
func (h *CatalogHandler) CreateProject(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	p, err := h.catalogService.CreateProject(&req)
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Created(c, p)
}

// ListProjects 项目列表
// GET /api/projects
func (h *CatalogHandler) ListProjects(c *gin.Context) {
	projects, err := h.catalogService.ListProjects()
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, projects)
}

// DeleteProject 级联删除项目
// DELETE /api/projects/:id
func (h *CatalogHandler) DeleteProject(c *gin.Context) {
	resp, err := h.catalogService.DeleteProject(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, resp)
}

// CreateAnalysis 创建分析
// POST /api/analyses
func (h *CatalogHandler) CreateAnalysis(c *gin.Context) {
	var req dto.CreateAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	a, err := h.catalogService.CreateAnalysis(&req)
	if err != nil {
		if errors.Is(err, service.ErrProjectNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Created(c, a)
}

// GetAnalysis 分析详情
// GET /api/analyses/:id
func (h *CatalogHandler) GetAnalysis(c *gin.Context) {
	a, err := h.catalogService.GetAnalysis(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, a)
}

// ListAnalyses 项目下的分析列表
// GET /api/projects/:id/analyses
func (h *CatalogHandler) ListAnalyses(c *gin.Context) {
	analyses, err := h.catalogService.ListAnalyses(c.Param("id"))
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, analyses)
}

// CreateTask 创建训练任务定义
// POST /api/tasks
func (h *CatalogHandler) CreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	t, err := h.catalogService.CreateTask(&req)
	if err != nil {
		if errors.Is(err, service.ErrAnalysisNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		// 非法 task_type / model_family
		response.ParamError(c, err.Error())
		return
	}
	response.Created(c, t)
}

// GetTask 任务详情
// GET /api/tasks/:id
func (h *CatalogHandler) GetTask(c *gin.Context) {
	t, err := h.catalogService.GetTask(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}
	response.Success(c, t)
}

// ListTasks 分析下的任务列表
// GET /api/analyses/:id/tasks
func (h *CatalogHandler) ListTasks(c *gin.Context) {
	tasks, err := h.catalogService.ListTasks(c.Param("id"))
	if err != nil {
		response.ServerError(c, "")
		return
	}
	response.Success(c, tasks)
}
