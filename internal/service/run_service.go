package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var ErrRunNotFound = errors.New("run not found")

const cancelRequestedMessage = "cancel requested by user"

// RunService 作业状态查询与协作取消
type RunService struct {
	jobRepo *repository.JobRepository
}

func NewRunService(jobRepo *repository.JobRepository) *RunService {
	return &RunService{jobRepo: jobRepo}
}

// Get 单个 run 的状态投影
func (s *RunService) Get(runID string) (*dto.RunStatus, error) {
	job, err := s.jobRepo.GetByID(runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return projectRun(job), nil
}

// GetMany 批量查询，结果按请求顺序，缺失的 id 静默跳过
func (s *RunService) GetMany(runIDs []string) ([]*dto.RunStatus, error) {
	jobs, err := s.jobRepo.GetMany(runIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.TrainingJob, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	out := make([]*dto.RunStatus, 0, len(jobs))
	for _, id := range runIDs {
		if j, ok := byID[id]; ok {
			out = append(out, projectRun(j))
		}
	}
	return out, nil
}

// ListByUser 某用户的 run 列表
func (s *RunService) ListByUser(userID string, page, pageSize int, status string) (*dto.RunListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	jobs, total, err := s.jobRepo.ListByUser(userID, page, pageSize, status)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.RunStatus, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, projectRun(j))
	}
	return &dto.RunListResponse{Total: total, Page: page, Items: items}, nil
}

// Cancel 协作取消，幂等。
//
//   - queued：控制面同步改为 canceled（worker 认领时发现终态直接丢弃消息）
//   - running：只置 cancel_requested 标志，等 worker 在检查点响应
//   - 终态：no-op
//
// 所有分支都返回成功。
func (s *RunService) Cancel(runID string) error {
	job, err := s.jobRepo.GetByID(runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRunNotFound
		}
		return err
	}

	if model.IsTerminalStatus(job.Status) {
		return nil
	}

	canceled, err := s.jobRepo.CancelIfQueued(runID, cancelRequestedMessage)
	if err != nil {
		return err
	}
	if canceled {
		return nil
	}

	// queued 取消竞态落败（worker 已认领）或本来就 running：置标志
	return s.jobRepo.RequestCancel(runID, cancelRequestedMessage)
}

// projectRun 作业文档 → 对外状态投影
func projectRun(job *model.TrainingJob) *dto.RunStatus {
	rs := &dto.RunStatus{
		ID:                  job.ID,
		Status:              model.NormalizeStatus(job.Status),
		Progress:            job.Progress,
		Message:             job.Message,
		Metrics:             job.Metrics,
		Artifacts:           job.Artifacts,
		DatasetOriginalName: job.DatasetOriginalName,
		CancelRequested:     job.CancelRequested,
		CreatedAt:           job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:           job.UpdatedAt.UTC().Format(time.RFC3339),
		TaskRef: &dto.TaskRef{
			TaskID:      job.TaskID,
			AnalysisID:  job.AnalysisID,
			TaskType:    job.TaskType,
			Target:      job.Target,
			Split:       job.Split,
			ModelFamily: job.ModelFamily,
			ModelParams: job.ModelParams,
			UserID:      job.UserID,
		},
	}
	if job.ExperimentRunID != "" {
		rs.ExperimentRef = &dto.ExperimentRef{RunID: job.ExperimentRunID}
	}
	return rs
}
