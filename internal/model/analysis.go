package model

import (
	"time"
)

// Project 项目：分析的分组容器
type Project struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Project) TableName() string {
	return "projects"
}

// Analysis 分析：数据集 + 一组训练任务
type Analysis struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID           string    `gorm:"size:36;not null;index" json:"project_id"`
	Name                string    `gorm:"size:200;not null" json:"name"`
	DatasetURI          string    `gorm:"size:500;not null" json:"dataset_uri"`
	DatasetOriginalName string    `gorm:"size:255" json:"dataset_original_name,omitempty"`
	CreatedAt           time.Time `gorm:"index" json:"created_at"`
}

func (Analysis) TableName() string {
	return "analyses"
}

// MLTask 训练任务定义。超参数在创建时校验，入队时原样快照。
type MLTask struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	AnalysisID  string    `gorm:"size:36;not null;index" json:"analysis_id"`
	TaskType    string    `gorm:"size:20;not null" json:"task_type"` // classification, regression
	Target      string    `gorm:"size:100;not null" json:"target"`
	Split       JSONMap   `gorm:"type:json" json:"split"`
	ModelFamily string    `gorm:"size:50;not null" json:"model_family"`
	ModelParams JSONMap   `gorm:"type:json" json:"model_params"`
	Status      string    `gorm:"size:20;default:ready" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (MLTask) TableName() string {
	return "ml_tasks"
}
