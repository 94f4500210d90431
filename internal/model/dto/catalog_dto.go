package dto

import (
	"github.com/visualml/visualml_go_server/internal/model"
)

// CreateProjectRequest 创建项目
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required,max=200"`
}

// DeleteProjectResponse 级联删除项目的结果
type DeleteProjectResponse struct {
	OK              bool   `json:"ok"`
	DeletedProject  string `json:"deleted_project_id"`
	DeletedAnalyses int    `json:"deleted_analyses"`
}

// CreateAnalysisRequest 创建分析（数据集 + 名称）
type CreateAnalysisRequest struct {
	ProjectID           string `json:"project_id" binding:"required"`
	Name                string `json:"name"`
	DatasetURI          string `json:"dataset_uri" binding:"required"`
	DatasetOriginalName string `json:"dataset_original_name"`
}

// CreateTaskRequest 创建训练任务定义
type CreateTaskRequest struct {
	AnalysisID  string        `json:"analysis_id" binding:"required"`
	TaskType    string        `json:"task_type" binding:"required"`
	Target      string        `json:"target" binding:"required"`
	ModelFamily string        `json:"model_family"`
	Split       model.JSONMap `json:"split"`
	ModelParams model.JSONMap `json:"model_params"`
}
