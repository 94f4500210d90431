package dto

import (
	"github.com/visualml/visualml_go_server/internal/model"
)

// TrainRequest 训练入队请求
type TrainRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"omitempty,max=128"`
	Force          bool   `json:"force,omitempty"`
}

// TrainResponse 训练入队响应
type TrainResponse struct {
	RunID string `json:"run_id"`
}

// TaskRef task_ref 快照（对外投影）
type TaskRef struct {
	TaskID      string        `json:"task_id"`
	AnalysisID  string        `json:"analysis_id"`
	TaskType    string        `json:"task_type"`
	Target      string        `json:"target"`
	Split       model.JSONMap `json:"split"`
	ModelFamily string        `json:"model_family"`
	ModelParams model.JSONMap `json:"model_params"`
	UserID      string        `json:"user_id"`
}

// ExperimentRef 实验存储引用
type ExperimentRef struct {
	RunID string `json:"run_id,omitempty"`
}

// RunStatus 单个 run 的状态投影（UI 轮询用）
type RunStatus struct {
	ID                  string         `json:"id"`
	Status              string         `json:"status"`
	Progress            float64        `json:"progress"`
	Message             string         `json:"message"`
	Metrics             model.JSONMap  `json:"metrics"`
	Artifacts           model.JSONMap  `json:"artifacts"`
	ExperimentRef       *ExperimentRef `json:"experiment_ref"`
	TaskRef             *TaskRef       `json:"task_ref"`
	DatasetOriginalName string         `json:"dataset_original_name"`
	CancelRequested     bool           `json:"cancel_requested,omitempty"`
	CreatedAt           string         `json:"created_at,omitempty"`
	UpdatedAt           string         `json:"updated_at,omitempty"`
}

// CancelResponse 取消响应（幂等，一律 ok）
type CancelResponse struct {
	OK bool `json:"ok"`
}

// RunListResponse 当前用户 run 列表
type RunListResponse struct {
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Items []*RunStatus `json:"items"`
}
