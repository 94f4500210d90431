package model

import (
	"strings"
	"time"
)

// 任务状态。大小写不敏感读取，落库一律小写。
const (
	StatusQueued          = "queued"
	StatusRunning         = "running"
	StatusSucceeded       = "succeeded"
	StatusFailed          = "failed"
	StatusError           = "error"
	StatusCanceled        = "canceled"
	StatusCancelRequested = "cancel_requested"
)

// ActiveStatuses 计入并发配额与 active-per-task 唯一性的状态
var ActiveStatuses = []string{StatusQueued, StatusRunning}

// NormalizeStatus 状态归一化：小写
func NormalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsTerminalStatus 终态一旦写入不再变化
func IsTerminalStatus(s string) bool {
	switch NormalizeStatus(s) {
	case StatusSucceeded, StatusFailed, StatusError, StatusCanceled:
		return true
	}
	return false
}

// IsActiveStatus 是否为活跃状态
func IsActiveStatus(s string) bool {
	switch NormalizeStatus(s) {
	case StatusQueued, StatusRunning:
		return true
	}
	return false
}

// TrainingJob 训练作业文档。
// task_ref 快照在插入时展平成列，之后不再修改；
// 运行期字段（status/progress/metrics/artifacts 等）由 worker 写入。
type TrainingJob struct {
	ID       string  `gorm:"primaryKey;size:36" json:"id"`
	Status   string  `gorm:"size:20;default:queued;index:idx_jobs_status_task,priority:1;index:idx_jobs_user_status,priority:2" json:"status"`
	Progress float64 `gorm:"default:0" json:"progress"`
	Message  string  `gorm:"size:500" json:"message"`
	WorkerID string  `gorm:"size:100" json:"worker_id,omitempty"`

	// task_ref 快照（插入后不可变）
	TaskID      string  `gorm:"size:36;not null;index:idx_jobs_status_task,priority:2" json:"task_id"`
	AnalysisID  string  `gorm:"size:36;not null" json:"analysis_id"`
	TaskType    string  `gorm:"size:20" json:"task_type"`
	Target      string  `gorm:"size:100" json:"target"`
	Split       JSONMap `gorm:"type:json" json:"split"`
	ModelFamily string  `gorm:"size:50" json:"model_family"`
	ModelParams JSONMap `gorm:"type:json" json:"model_params"`
	UserID      string  `gorm:"size:64;index:idx_jobs_user_status,priority:1" json:"user_id"`

	DatasetURI          string `gorm:"size:500" json:"dataset_uri"`
	DatasetOriginalName string `gorm:"size:255" json:"dataset_original_name"`

	// 实验存储侧的 run（训练开始后由 worker 写入）
	ExperimentRunID string `gorm:"size:64" json:"experiment_run_id,omitempty"`

	Metrics   JSONMap `gorm:"type:json" json:"metrics"`
	Artifacts JSONMap `gorm:"type:json" json:"artifacts"`

	// 幂等键：存在时全局唯一（含终态作业）。NULL 不参与唯一约束，
	// 等价于 Mongo 的 sparse unique index。
	IdempotencyKey *string `gorm:"size:128;uniqueIndex" json:"idempotency_key,omitempty"`

	CancelRequested bool `gorm:"default:false" json:"cancel_requested"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TrainingJob) TableName() string {
	return "training_jobs"
}
