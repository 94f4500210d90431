package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
)

// ErrDuplicateIdempotencyKey 幂等键唯一索引冲突。
// 并发提交的竞态由该错误解决：落败方按键重读并返回胜者的 id（见 TrainService）。
var ErrDuplicateIdempotencyKey = errors.New("idempotency key already exists")

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create 插入作业文档。幂等键冲突映射为 ErrDuplicateIdempotencyKey。
func (r *JobRepository) Create(job *model.TrainingJob) error {
	err := r.db.Create(job).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func (r *JobRepository) GetByID(id string) (*model.TrainingJob, error) {
	var job model.TrainingJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetActiveByTask 查询某 task 当前的活跃作业（queued/running）
func (r *JobRepository) GetActiveByTask(taskID string) (*model.TrainingJob, error) {
	var job model.TrainingJob
	err := r.db.Where("task_id = ? AND status IN ?", taskID, model.ActiveStatuses).
		Order("created_at ASC").First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByIdempotencyKey 按幂等键查询（含终态作业）
func (r *JobRepository) GetByIdempotencyKey(key string) (*model.TrainingJob, error) {
	var job model.TrainingJob
	err := r.db.Where("idempotency_key = ?", key).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CountActive 统计活跃作业数，userID 为空表示全局
func (r *JobRepository) CountActive(userID string) (int64, error) {
	q := r.db.Model(&model.TrainingJob{}).Where("status IN ?", model.ActiveStatuses)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

// GetMany 批量查询（多 run 轮询），缺失的 id 静默跳过
func (r *JobRepository) GetMany(ids []string) ([]*model.TrainingJob, error) {
	var jobs []*model.TrainingJob
	err := r.db.Where("id IN ?", ids).Find(&jobs).Error
	return jobs, err
}

// ListByUser 某用户的作业列表，按创建时间倒序
func (r *JobRepository) ListByUser(userID string, page, pageSize int, status string) ([]*model.TrainingJob, int64, error) {
	q := r.db.Model(&model.TrainingJob{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", model.NormalizeStatus(status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []*model.TrainingJob
	err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	return jobs, total, err
}

// SetFields 部分更新，总是同时推进 updated_at
func (r *JobRepository) SetFields(id string, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = time.Now().UTC()
	return r.db.Model(&model.TrainingJob{}).Where("id = ?", id).Updates(updates).Error
}

// CancelIfQueued 仅当作业仍为 queued 时同步取消（控制面唯一允许的 status 写入）。
// 返回是否真的发生了 queued→canceled 转移。
func (r *JobRepository) CancelIfQueued(id, message string) (bool, error) {
	res := r.db.Model(&model.TrainingJob{}).
		Where("id = ? AND status = ?", id, model.StatusQueued).
		Updates(map[string]interface{}{
			"status":           model.StatusCanceled,
			"cancel_requested": true,
			"message":          message,
			"updated_at":       time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// ClaimQueued worker 认领作业：仅当仍为 queued 时转入 running。
// 返回 false 表示作业已被取消或被其他 worker 抢走，消息应丢弃。
func (r *JobRepository) ClaimQueued(id, workerID string) (bool, error) {
	res := r.db.Model(&model.TrainingJob{}).
		Where("id = ? AND status = ?", id, model.StatusQueued).
		Updates(map[string]interface{}{
			"status":     model.StatusRunning,
			"worker_id":  workerID,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// FinishRun worker 收尾写入：仅当作业仍由 worker 持有（running 或
// cancel_requested 过渡态）时生效。返回 false 表示作业已被别的写者
// 收尾（如 stale 回收已标成 error），本次结果应当丢弃——终态一旦写入
// 不再被覆盖。
func (r *JobRepository) FinishRun(id string, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["updated_at"] = time.Now().UTC()
	res := r.db.Model(&model.TrainingJob{}).
		Where("id = ? AND status IN ?", id, []string{model.StatusRunning, model.StatusCancelRequested}).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// RequestCancel 设置协作取消标志（不改 status，由 worker 在检查点响应）
func (r *JobRepository) RequestCancel(id, message string) error {
	return r.SetFields(id, map[string]interface{}{
		"cancel_requested": true,
		"message":          message,
	})
}

// MarkStaleAsError 将超过 staleAfter 未更新的 running 作业标记为 error（worker 丢失）。
// at-least-once 契约：作业可重新提交。
func (r *JobRepository) MarkStaleAsError(staleAfter time.Duration, message string) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res := r.db.Model(&model.TrainingJob{}).
		Where("status = ? AND updated_at < ?", model.StatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":     model.StatusError,
			"message":    message,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// isUniqueViolation 识别唯一索引冲突。
// gorm 的 translator 在 MySQL/SQLite 下都会给出 ErrDuplicatedKey，
// 但 sqlite 驱动的旧版本会漏翻译，故兜底做字符串判断。
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
