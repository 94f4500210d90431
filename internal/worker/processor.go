package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/pkg/email"
	"github.com/visualml/visualml_go_server/internal/pkg/oss"
	"github.com/visualml/visualml_go_server/internal/pkg/pubsub"
	"github.com/visualml/visualml_go_server/internal/pkg/queue"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var errTrainAborted = errors.New("training aborted at cancel checkpoint")

// Processor 训练作业处理器。作业文档是唯一事实来源：
// 消息只带 run_id，认领、进度、终态全部走存储。
type Processor struct {
	jobRepo   *repository.JobRepository
	userRepo  *repository.UserRepository
	ossClient *oss.Client // 可为 nil
	publisher *pubsub.Publisher
	emailSvc  *email.Service
	trainer   *Trainer
	workerID  string
	cfg       *config.Config
}

func NewProcessor(
	jobRepo *repository.JobRepository,
	userRepo *repository.UserRepository,
	ossClient *oss.Client,
	publisher *pubsub.Publisher,
	emailSvc *email.Service,
	trainer *Trainer,
	workerID string,
	cfg *config.Config,
) *Processor {
	return &Processor{
		jobRepo:   jobRepo,
		userRepo:  userRepo,
		ossClient: ossClient,
		publisher: publisher,
		emailSvc:  emailSvc,
		trainer:   trainer,
		workerID:  workerID,
		cfg:       cfg,
	}
}

// Process 处理一条入队消息
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.jobRepo.GetByID(msg.RunID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", msg.RunID, err)
	}

	// 认领：queued→running。取消竞态（排队期间被同步取消）或
	// 重复投递（已被别的 worker 认领）在这里被丢弃。
	claimed, err := p.jobRepo.ClaimQueued(job.ID, p.workerID)
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}
	if !claimed {
		log.Printf("Job %s: not claimable (status=%s), dropping message", job.ID, job.Status)
		return nil
	}

	p.publishProgress(ctx, job, model.StatusRunning, 0, "", "")

	scratchDir, err := os.MkdirTemp(p.cfg.Worker.ScratchDir, "run-"+job.ID+"-*")
	if err != nil {
		return p.finishError(ctx, job, fmt.Sprintf("failed to create scratch dir: %v", err))
	}
	defer os.RemoveAll(scratchDir)

	datasetPath, err := p.resolveDataset(job, scratchDir)
	if err != nil {
		return p.finishError(ctx, job, fmt.Sprintf("failed to resolve dataset: %v", err))
	}

	var result *TrainerEvent
	onEvent := func(ev *TrainerEvent) bool {
		switch ev.Event {
		case "progress":
			// 进度事件就是取消检查点
			if p.cancelRequested(job.ID) {
				return false
			}
			p.jobRepo.SetFields(job.ID, map[string]interface{}{
				"progress": ev.Progress,
				"message":  ev.Message,
			})
			p.publishProgress(ctx, job, model.StatusRunning, ev.Progress, ev.Message, "")
		case "mlflow":
			p.jobRepo.SetFields(job.ID, map[string]interface{}{
				"experiment_run_id": ev.RunID,
			})
		case "metrics":
			p.jobRepo.SetFields(job.ID, map[string]interface{}{
				"metrics": model.JSONMap(ev.Metrics),
			})
		case "result":
			result = ev
		}
		return true
	}

	err = p.trainer.Run(ctx, job, datasetPath, scratchDir, onEvent)
	switch {
	case errors.Is(err, errTrainAborted):
		return p.finishCanceled(ctx, job)
	case err != nil:
		// 进程异常退出也可能是取消竞态：优先按取消收尾
		if p.cancelRequested(job.ID) {
			return p.finishCanceled(ctx, job)
		}
		return p.finishError(ctx, job, err.Error())
	}

	if result == nil {
		return p.finishError(ctx, job, "trainer exited without a result event")
	}

	switch model.NormalizeStatus(result.Status) {
	case model.StatusSucceeded:
		return p.finishTerminal(ctx, job, model.StatusSucceeded, result, "")
	case model.StatusFailed:
		return p.finishTerminal(ctx, job, model.StatusFailed, result, result.Message)
	default:
		return p.finishError(ctx, job, fmt.Sprintf("trainer reported unknown status %q", result.Status))
	}
}

// resolveDataset 把 dataset_uri 变成本地文件路径
func (p *Processor) resolveDataset(job *model.TrainingJob, scratchDir string) (string, error) {
	uri := job.DatasetURI
	switch {
	case strings.HasPrefix(uri, "file://"):
		path := strings.TrimPrefix(uri, "file://")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("dataset %s not readable: %w", path, err)
		}
		return path, nil

	case oss.IsOSSURI(uri):
		if p.ossClient == nil {
			return "", fmt.Errorf("dataset %s requires OSS but client not configured", uri)
		}
		key, err := p.ossClient.ObjectKey(uri)
		if err != nil {
			return "", err
		}
		local := filepath.Join(scratchDir, "dataset"+filepath.Ext(uri))
		if err := p.ossClient.DownloadTo(key, local); err != nil {
			return "", err
		}
		return local, nil

	default:
		return "", fmt.Errorf("unsupported dataset uri %q", uri)
	}
}

// cancelRequested 回读取消标志（检查点）
func (p *Processor) cancelRequested(runID string) bool {
	job, err := p.jobRepo.GetByID(runID)
	if err != nil {
		return false
	}
	return job.CancelRequested
}

// finishCanceled 取消收尾：先挂出 cancel_requested 过渡态，再写 canceled 终态。
// 两步都是条件写入：作业若已被 stale 回收收尾，结果直接丢弃。
func (p *Processor) finishCanceled(ctx context.Context, job *model.TrainingJob) error {
	ok, err := p.jobRepo.FinishRun(job.ID, map[string]interface{}{
		"status": model.StatusCancelRequested,
	})
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("Job %s: already finalized elsewhere, dropping cancel", job.ID)
		return nil
	}

	msg := "canceled at checkpoint"
	if _, err := p.jobRepo.FinishRun(job.ID, map[string]interface{}{
		"status":  model.StatusCanceled,
		"message": msg,
	}); err != nil {
		return err
	}

	p.publishProgress(ctx, job, model.StatusCanceled, 0, msg, "")
	p.notify(job, model.StatusCanceled, msg)
	log.Printf("Job %s: canceled", job.ID)
	return nil
}

// finishError 基础设施失败（区别于训练本身失败的 failed）
func (p *Processor) finishError(ctx context.Context, job *model.TrainingJob, msg string) error {
	ok, err := p.jobRepo.FinishRun(job.ID, map[string]interface{}{
		"status":  model.StatusError,
		"message": msg,
	})
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("Job %s: already finalized elsewhere, dropping error: %s", job.ID, msg)
		return nil
	}
	p.publishProgress(ctx, job, model.StatusError, 0, "", msg)
	p.notify(job, model.StatusError, msg)
	log.Printf("Job %s: error: %s", job.ID, msg)
	return nil
}

// finishTerminal succeeded / failed 收尾。
// progress 只在成功时推到 1.0，失败保持最后上报的进度。
func (p *Processor) finishTerminal(ctx context.Context, job *model.TrainingJob, status string, result *TrainerEvent, msg string) error {
	fields := map[string]interface{}{
		"status":  status,
		"message": msg,
	}
	if status == model.StatusSucceeded {
		fields["progress"] = 1.0
	}
	if result.Metrics != nil {
		fields["metrics"] = model.JSONMap(result.Metrics)
	}
	if result.Artifacts != nil {
		fields["artifacts"] = model.JSONMap(result.Artifacts)
	}
	if result.RunID != "" {
		fields["experiment_run_id"] = result.RunID
	}
	ok, err := p.jobRepo.FinishRun(job.ID, fields)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("Job %s: already finalized elsewhere, dropping %s result", job.ID, status)
		return nil
	}

	p.publishProgress(ctx, job, status, 1.0, msg, "")
	p.notify(job, status, msg)
	log.Printf("Job %s: %s", job.ID, status)
	return nil
}

func (p *Processor) publishProgress(ctx context.Context, job *model.TrainingJob, status string, progress float64, msg, errMsg string) {
	if p.publisher == nil {
		return
	}
	p.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		UserID:   job.UserID,
		RunID:    job.ID,
		TaskID:   job.TaskID,
		Status:   status,
		Progress: progress,
		Message:  msg,
		Error:    errMsg,
	})
}

// notify 终态邮件通知（SMTP 未配置或内网提交则跳过）
func (p *Processor) notify(job *model.TrainingJob, status, msg string) {
	if p.emailSvc == nil || !p.emailSvc.Enabled() {
		return
	}
	user, err := p.userRepo.GetByID(job.UserID)
	if err != nil || user.Email == nil {
		return
	}
	if err := p.emailSvc.SendRunFinished(*user.Email, job.ID, job.Target, status, msg); err != nil {
		log.Printf("Job %s: failed to send notification: %v", job.ID, err)
	}
}
