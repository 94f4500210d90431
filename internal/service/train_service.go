package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/queue"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrAnalysisNotFound = errors.New("analysis not found")
)

// QuotaRejectedError 准入拒绝，携带全部命中的原因
type QuotaRejectedError struct {
	Reasons []string
}

func (e *QuotaRejectedError) Error() string {
	return "admission rejected: " + strings.Join(e.Reasons, "; ")
}

// TrainService 训练提交入口：目录快照 → 幂等去重 → 准入 → 落库 → 入队。
// 作业文档是唯一事实来源，入队消息只携带 run_id。
type TrainService struct {
	jobRepo      *repository.JobRepository
	catalogRepo  *repository.CatalogRepository
	quotaService *QuotaService
	trainQueue   *queue.Queue
}

func NewTrainService(
	jobRepo *repository.JobRepository,
	catalogRepo *repository.CatalogRepository,
	quotaService *QuotaService,
	trainQueue *queue.Queue,
) *TrainService {
	return &TrainService{
		jobRepo:      jobRepo,
		catalogRepo:  catalogRepo,
		quotaService: quotaService,
		trainQueue:   trainQueue,
	}
}

// Enqueue 提交训练作业。返回 run_id 与是否新建。
//
// 准入先于一切去重评估，force 与否都一样。通过准入后的幂等语义：
//  1. force=false 且该 task 已有活跃作业 → 直接返回该作业 id
//  2. 幂等键已存在（含终态作业）→ 返回已有作业 id
//  3. 并发插入撞到幂等键唯一索引 → 按键重读，返回胜者 id
//
// force 只跳过第 1 步的去重，不绕过并发上限。
func (s *TrainService) Enqueue(ctx context.Context, taskID, userID string, req *dto.TrainRequest) (string, bool, error) {
	task, err := s.catalogRepo.GetTask(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, ErrTaskNotFound
		}
		return "", false, err
	}

	analysis, err := s.catalogRepo.GetAnalysis(task.AnalysisID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, ErrAnalysisNotFound
		}
		return "", false, err
	}

	// 准入先于去重：达到并发上限时，重复提交同样被拒绝
	decision, err := s.quotaService.Decide(userID)
	if err != nil {
		return "", false, err
	}
	if !decision.OK {
		return "", false, &QuotaRejectedError{Reasons: decision.Reasons}
	}

	if !req.Force {
		active, err := s.jobRepo.GetActiveByTask(taskID)
		if err == nil {
			return active.ID, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, err
		}
	}

	if req.IdempotencyKey != "" {
		existing, err := s.jobRepo.GetByIdempotencyKey(req.IdempotencyKey)
		if err == nil {
			return existing.ID, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, err
		}
	}

	job := &model.TrainingJob{
		ID:                  uuid.NewString(),
		Status:              model.StatusQueued,
		TaskID:              task.ID,
		AnalysisID:          task.AnalysisID,
		TaskType:            task.TaskType,
		Target:              task.Target,
		Split:               task.Split,
		ModelFamily:         task.ModelFamily,
		ModelParams:         task.ModelParams,
		UserID:              userID,
		DatasetURI:          analysis.DatasetURI,
		DatasetOriginalName: analysis.DatasetOriginalName,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		job.IdempotencyKey = &key
	}

	if err := s.jobRepo.Create(job); err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) && req.IdempotencyKey != "" {
			winner, rerr := s.jobRepo.GetByIdempotencyKey(req.IdempotencyKey)
			if rerr != nil {
				return "", false, fmt.Errorf("duplicate key but re-read failed: %w", rerr)
			}
			return winner.ID, false, nil
		}
		return "", false, err
	}

	if err := s.trainQueue.Push(ctx, &queue.JobMessage{RunID: job.ID, UserID: userID}); err != nil {
		// 入队失败的作业没有 worker 会认领，立即终结，客户端可重试
		if serr := s.jobRepo.SetFields(job.ID, map[string]interface{}{
			"status":  model.StatusError,
			"message": "failed to enqueue job",
		}); serr != nil {
			log.Printf("Failed to mark unenqueued job %s as error: %v", job.ID, serr)
		}
		return "", false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job.ID, true, nil
}
