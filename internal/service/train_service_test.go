package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/queue"
	"github.com/visualml/visualml_go_server/internal/repository"
	"github.com/visualml/visualml_go_server/internal/testutil"
)

type trainFixture struct {
	svc     *TrainService
	jobRepo *repository.JobRepository
	queue   *queue.Queue
	db      *gorm.DB
	taskID  string
}

func setupTrain(t *testing.T, quota config.QuotaConfig) *trainFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	project := testutil.TestProject(t, db)
	analysis := testutil.TestAnalysis(t, db, project.ID)
	task := testutil.TestTask(t, db, analysis.ID)

	jobRepo := repository.NewJobRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	q := queue.NewQueue(rdb, "test_train_jobs")
	quotaSvc := NewQuotaService(jobRepo, &quota)

	return &trainFixture{
		svc:     NewTrainService(jobRepo, catalogRepo, quotaSvc, q),
		jobRepo: jobRepo,
		queue:   q,
		db:      db,
		taskID:  task.ID,
	}
}

func defaultQuota() config.QuotaConfig {
	return config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8}
}

func TestTrainService_Enqueue_CreatesJob(t *testing.T) {
	f := setupTrain(t, defaultQuota())
	ctx := context.Background()

	runID, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, runID)

	job, err := f.jobRepo.GetByID(runID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, job.Status)
	assert.Equal(t, f.taskID, job.TaskID)
	assert.Equal(t, "user-1", job.UserID)
	assert.NotEmpty(t, job.DatasetURI, "task snapshot must carry the dataset uri")

	length, err := f.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

// 同一 task 的重复提交收敛到同一个活跃 run
func TestTrainService_Enqueue_DuplicateCollapses(t *testing.T) {
	f := setupTrain(t, defaultQuota())
	ctx := context.Background()

	first, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	// 队列里只有一条消息
	length, err := f.queue.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

// 幂等键命中时即使作业已终态也返回原 run，不再新建
func TestTrainService_Enqueue_IdempotencyKeyAcrossTerminal(t *testing.T) {
	f := setupTrain(t, defaultQuota())
	ctx := context.Background()

	req := &dto.TrainRequest{IdempotencyKey: "client-key-1"}
	first, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", req)
	require.NoError(t, err)
	assert.True(t, created)

	// 作业完成
	require.NoError(t, f.jobRepo.SetFields(first, map[string]interface{}{
		"status": model.StatusSucceeded,
	}))

	second, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)
}

// force 跳过活跃去重，允许同一 task 并行跑两个 run
func TestTrainService_Enqueue_ForceParallelRun(t *testing.T) {
	f := setupTrain(t, defaultQuota())
	ctx := context.Background()

	first, _, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)

	second, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{Force: true})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first, second)
}

// force 不绕过并发上限
func TestTrainService_Enqueue_ForceDoesNotBypassQuota(t *testing.T) {
	f := setupTrain(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 1})
	ctx := context.Background()

	_, _, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)

	_, _, err = f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{Force: true})
	var quotaErr *QuotaRejectedError
	require.ErrorAs(t, err, &quotaErr)
	assert.Contains(t, quotaErr.Reasons[0], "user active runs limit reached (1/1)")
}

func TestTrainService_Enqueue_UserCap(t *testing.T) {
	f := setupTrain(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 2})
	ctx := context.Background()

	// 占满 user-1 的两个并发位
	testutil.TestJob(t, f.db, "user-1", "other-task-1", model.StatusQueued)
	testutil.TestJob(t, f.db, "user-1", "other-task-2", model.StatusRunning)

	_, _, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	var quotaErr *QuotaRejectedError
	require.ErrorAs(t, err, &quotaErr)
	assert.Contains(t, quotaErr.Reasons[0], "user active runs limit reached (2/2)")

	// 别的用户不受影响
	_, created, err := f.svc.Enqueue(ctx, f.taskID, "user-2", &dto.TrainRequest{})
	require.NoError(t, err)
	assert.True(t, created)
}

// 终态作业释放并发位
func TestTrainService_Enqueue_TerminalJobsFreeQuota(t *testing.T) {
	f := setupTrain(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 1})
	ctx := context.Background()

	testutil.TestJob(t, f.db, "user-1", "other-task", model.StatusFailed)

	_, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestTrainService_Enqueue_TaskNotFound(t *testing.T) {
	f := setupTrain(t, defaultQuota())

	_, _, err := f.svc.Enqueue(context.Background(), "no-such-task", "user-1", &dto.TrainRequest{})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

// 准入先于去重：并发额度用满后，即使是会坍缩的重复提交也被拒绝
func TestTrainService_Enqueue_DuplicateAtCapRejected(t *testing.T) {
	f := setupTrain(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 1})
	ctx := context.Background()

	runID, created, err := f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	require.NoError(t, err)
	require.True(t, created)
	require.NotEmpty(t, runID)

	_, _, err = f.svc.Enqueue(ctx, f.taskID, "user-1", &dto.TrainRequest{})
	var quotaErr *QuotaRejectedError
	require.ErrorAs(t, err, &quotaErr)
	assert.Contains(t, quotaErr.Reasons, "user active runs limit reached (1/1)")
}
