package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        &email,
		Name:         "Test User",
		Role:         model.RoleUser,
		PasswordHash: &passwordHash,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithRole 设置角色
func WithRole(role string) func(*model.User) {
	return func(u *model.User) {
		u.Role = role
	}
}

// TestProject 创建测试项目
func TestProject(t *testing.T, db *gorm.DB) *model.Project {
	t.Helper()

	p := &model.Project{
		ID:   uuid.NewString(),
		Name: fmt.Sprintf("project-%d", time.Now().UnixNano()%100000),
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create test project: %v", err)
	}
	return p
}

// TestAnalysis 创建测试分析
func TestAnalysis(t *testing.T, db *gorm.DB, projectID string, opts ...func(*model.Analysis)) *model.Analysis {
	t.Helper()

	a := &model.Analysis{
		ID:                  uuid.NewString(),
		ProjectID:           projectID,
		Name:                "iris analysis",
		DatasetURI:          "file:///tmp/datasets/iris.csv",
		DatasetOriginalName: "iris.csv",
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("Failed to create test analysis: %v", err)
	}
	return a
}

// WithDatasetURI 设置数据集 URI
func WithDatasetURI(uri string) func(*model.Analysis) {
	return func(a *model.Analysis) {
		a.DatasetURI = uri
	}
}

// TestTask 创建测试训练任务
func TestTask(t *testing.T, db *gorm.DB, analysisID string, opts ...func(*model.MLTask)) *model.MLTask {
	t.Helper()

	task := &model.MLTask{
		ID:          uuid.NewString(),
		AnalysisID:  analysisID,
		TaskType:    "classification",
		Target:      "species",
		Split:       model.JSONMap{"test_size": 0.2, "random_state": 42},
		ModelFamily: "random_forest",
		ModelParams: model.JSONMap{"n_estimators": 100},
		Status:      "ready",
	}
	for _, opt := range opts {
		opt(task)
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("Failed to create test task: %v", err)
	}
	return task
}

// TestJob 创建测试训练作业
func TestJob(t *testing.T, db *gorm.DB, userID, taskID string, status string, opts ...func(*model.TrainingJob)) *model.TrainingJob {
	t.Helper()

	job := &model.TrainingJob{
		ID:          uuid.NewString(),
		Status:      status,
		TaskID:      taskID,
		AnalysisID:  uuid.NewString(),
		TaskType:    "classification",
		Target:      "species",
		ModelFamily: "random_forest",
		UserID:      userID,
		DatasetURI:  "file:///tmp/datasets/iris.csv",
	}
	for _, opt := range opts {
		opt(job)
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("Failed to create test job: %v", err)
	}
	return job
}

// WithIdempotencyKey 设置幂等键
func WithIdempotencyKey(key string) func(*model.TrainingJob) {
	return func(j *model.TrainingJob) {
		j.IdempotencyKey = &key
	}
}

// WithCancelRequested 设置取消标志
func WithCancelRequested() func(*model.TrainingJob) {
	return func(j *model.TrainingJob) {
		j.CancelRequested = true
	}
}
