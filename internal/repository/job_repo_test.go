package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/testutil"
)

func setupJobRepo(t *testing.T) (*JobRepository, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return NewJobRepository(db), db
}

func TestJobRepository_Create_DuplicateIdempotencyKey(t *testing.T) {
	repo, _ := setupJobRepo(t)

	key := "idem-1"
	job1 := &model.TrainingJob{ID: uuid.NewString(), Status: model.StatusQueued,
		TaskID: "task-1", UserID: "user-1", IdempotencyKey: &key}
	require.NoError(t, repo.Create(job1))

	job2 := &model.TrainingJob{ID: uuid.NewString(), Status: model.StatusQueued,
		TaskID: "task-2", UserID: "user-1", IdempotencyKey: &key}
	err := repo.Create(job2)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
}

func TestJobRepository_Create_NilKeysDoNotCollide(t *testing.T) {
	repo, _ := setupJobRepo(t)

	for i := 0; i < 3; i++ {
		job := &model.TrainingJob{ID: uuid.NewString(), Status: model.StatusQueued,
			TaskID: "task-1", UserID: "user-1"}
		require.NoError(t, repo.Create(job))
	}
}

func TestJobRepository_GetByIdempotencyKey_TerminalIncluded(t *testing.T) {
	repo, db := setupJobRepo(t)

	job := testutil.TestJob(t, db, "user-1", "task-1", model.StatusSucceeded,
		testutil.WithIdempotencyKey("idem-done"))

	got, err := repo.GetByIdempotencyKey("idem-done")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.StatusSucceeded, got.Status)
}

func TestJobRepository_GetActiveByTask(t *testing.T) {
	repo, db := setupJobRepo(t)

	testutil.TestJob(t, db, "user-1", "task-1", model.StatusSucceeded)
	active := testutil.TestJob(t, db, "user-1", "task-1", model.StatusQueued)

	got, err := repo.GetActiveByTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	_, err = repo.GetActiveByTask("task-without-jobs")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestJobRepository_CountActive(t *testing.T) {
	repo, db := setupJobRepo(t)

	testutil.TestJob(t, db, "user-1", "task-1", model.StatusQueued)
	testutil.TestJob(t, db, "user-1", "task-2", model.StatusRunning)
	testutil.TestJob(t, db, "user-1", "task-3", model.StatusFailed)
	testutil.TestJob(t, db, "user-2", "task-4", model.StatusRunning)

	user1, err := repo.CountActive("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), user1)

	global, err := repo.CountActive("")
	require.NoError(t, err)
	assert.Equal(t, int64(3), global)
}

func TestJobRepository_CancelIfQueued(t *testing.T) {
	repo, db := setupJobRepo(t)

	queued := testutil.TestJob(t, db, "user-1", "task-1", model.StatusQueued)
	running := testutil.TestJob(t, db, "user-1", "task-2", model.StatusRunning)

	ok, err := repo.CancelIfQueued(queued.ID, "cancel requested by user")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
	assert.True(t, got.CancelRequested)

	// running 作业不能被控制面同步取消
	ok, err = repo.CancelIfQueued(running.ID, "cancel requested by user")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = repo.GetByID(running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestJobRepository_RequestCancel_FlagOnly(t *testing.T) {
	repo, db := setupJobRepo(t)

	running := testutil.TestJob(t, db, "user-1", "task-1", model.StatusRunning)

	require.NoError(t, repo.RequestCancel(running.ID, "cancel requested by user"))

	got, err := repo.GetByID(running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.True(t, got.CancelRequested)
}

func TestJobRepository_ClaimQueued(t *testing.T) {
	repo, db := setupJobRepo(t)

	job := testutil.TestJob(t, db, "user-1", "task-1", model.StatusQueued)

	ok, err := repo.ClaimQueued(job.ID, "worker-a")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, "worker-a", got.WorkerID)

	// 二次认领失败（已 running）
	ok, err = repo.ClaimQueued(job.ID, "worker-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// 已取消的作业不可认领
	canceled := testutil.TestJob(t, db, "user-1", "task-2", model.StatusCanceled)
	ok, err = repo.ClaimQueued(canceled.ID, "worker-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepository_MarkStaleAsError(t *testing.T) {
	repo, db := setupJobRepo(t)

	stale := testutil.TestJob(t, db, "user-1", "task-1", model.StatusRunning)
	require.NoError(t, db.Model(&model.TrainingJob{}).
		Where("id = ?", stale.ID).
		Update("updated_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	fresh := testutil.TestJob(t, db, "user-1", "task-2", model.StatusRunning)

	n, err := repo.MarkStaleAsError(time.Hour, "worker lost")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetByID(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)

	got, err = repo.GetByID(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestJobRepository_SetFields_BumpsUpdatedAt(t *testing.T) {
	repo, db := setupJobRepo(t)

	job := testutil.TestJob(t, db, "user-1", "task-1", model.StatusRunning)
	before := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&model.TrainingJob{}).
		Where("id = ?", job.ID).Update("updated_at", before).Error)

	require.NoError(t, repo.SetFields(job.ID, map[string]interface{}{
		"progress": 0.5,
	}))

	got, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Progress)
	assert.True(t, got.UpdatedAt.After(before.Add(time.Minute)),
		"SetFields must advance updated_at")
}

func TestJobRepository_GetMany(t *testing.T) {
	repo, db := setupJobRepo(t)

	j1 := testutil.TestJob(t, db, "user-1", "task-1", model.StatusQueued)
	j2 := testutil.TestJob(t, db, "user-1", "task-2", model.StatusRunning)

	jobs, err := repo.GetMany([]string{j1.ID, "missing-id", j2.ID})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestJobRepository_ListByUser(t *testing.T) {
	repo, db := setupJobRepo(t)

	for i := 0; i < 3; i++ {
		testutil.TestJob(t, db, "user-1", uuid.NewString(), model.StatusQueued)
	}
	testutil.TestJob(t, db, "user-1", "task-x", model.StatusSucceeded)
	testutil.TestJob(t, db, "user-2", "task-y", model.StatusQueued)

	jobs, total, err := repo.ListByUser("user-1", 1, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, jobs, 4)

	jobs, total, err = repo.ListByUser("user-1", 1, 10, "SUCCEEDED")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.StatusSucceeded, jobs[0].Status)

	jobs, _, err = repo.ListByUser("user-1", 2, 3, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestJobRepository_FinishRun(t *testing.T) {
	repo, _ := setupJobRepo(t)

	running := &model.TrainingJob{ID: uuid.NewString(), Status: model.StatusRunning,
		TaskID: "task-1", UserID: "user-1", Progress: 0.5}
	require.NoError(t, repo.Create(running))

	ok, err := repo.FinishRun(running.ID, map[string]interface{}{
		"status": model.StatusSucceeded, "progress": 1.0,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, got.Status)
}

// 终态一旦写入不再被覆盖：被 stale 回收标成 error 的作业，
// 迟到的 worker 结果必须被丢弃
func TestJobRepository_FinishRun_DoesNotOverwriteTerminal(t *testing.T) {
	repo, db := setupJobRepo(t)

	job := &model.TrainingJob{ID: uuid.NewString(), Status: model.StatusRunning,
		TaskID: "task-1", UserID: "user-1"}
	require.NoError(t, repo.Create(job))

	// 模拟回收器：把 updated_at 拨旧后标成 error
	require.NoError(t, db.Model(&model.TrainingJob{}).Where("id = ?", job.ID).
		Update("updated_at", time.Now().UTC().Add(-2*time.Hour)).Error)
	reaped, err := repo.MarkStaleAsError(30*time.Minute, "worker lost: no progress update, marked as error")
	require.NoError(t, err)
	require.EqualValues(t, 1, reaped)

	ok, err := repo.FinishRun(job.ID, map[string]interface{}{
		"status": model.StatusSucceeded, "progress": 1.0,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
}

// cancel_requested 过渡态仍由 worker 持有，收尾写入要放行
func TestJobRepository_FinishRun_CancelRequestedTransition(t *testing.T) {
	repo, _ := setupJobRepo(t)

	job := &model.TrainingJob{ID: uuid.NewString(), Status: model.StatusCancelRequested,
		TaskID: "task-1", UserID: "user-1"}
	require.NoError(t, repo.Create(job))

	ok, err := repo.FinishRun(job.ID, map[string]interface{}{
		"status": model.StatusCanceled, "message": "canceled at checkpoint",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, got.Status)
}
