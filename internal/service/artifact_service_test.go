package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/pkg/mlflow"
	"github.com/visualml/visualml_go_server/internal/repository"
	"github.com/visualml/visualml_go_server/internal/testutil"
)

// writeMlrunsArtifact 在本地 mlruns 目录里放一个产物文件
func writeMlrunsArtifact(t *testing.T, root, expID, runID, name string, data []byte) {
	t.Helper()
	dir := filepath.Join(root, expID, runID, "artifacts", filepath.Dir(name))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(root, expID, runID, "artifacts", name), data, 0644))
}

func setupArtifact(t *testing.T) (*ArtifactService, *repository.JobRepository, string) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	jobRepo := repository.NewJobRepository(db)

	root := t.TempDir()
	store := mlflow.NewClient("file:" + root)
	return NewArtifactService(jobRepo, store), jobRepo, root
}

func TestArtifactService_Get_JSON(t *testing.T) {
	svc, jobRepo, root := setupArtifact(t)

	job := mustJobWithRun(t, jobRepo, "mlrun-1")
	writeMlrunsArtifact(t, root, "0", "mlrun-1", "metrics.json", []byte(`{"accuracy":0.91}`))

	art, err := svc.Get(context.Background(), job.ID, "metrics.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", art.ContentType)
	require.NotNil(t, art.JSON)
	parsed := art.JSON.(map[string]interface{})
	assert.Equal(t, 0.91, parsed["accuracy"])
}

func TestArtifactService_Get_Binary(t *testing.T) {
	svc, jobRepo, root := setupArtifact(t)

	job := mustJobWithRun(t, jobRepo, "mlrun-2")
	png := []byte{0x89, 'P', 'N', 'G'}
	writeMlrunsArtifact(t, root, "0", "mlrun-2", "confusion_matrix.png", png)

	art, err := svc.Get(context.Background(), job.ID, "confusion_matrix.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", art.ContentType)
	assert.Equal(t, png, art.Bytes)
	assert.Nil(t, art.JSON)
}

func TestArtifactService_Get_Missing(t *testing.T) {
	svc, jobRepo, _ := setupArtifact(t)

	job := mustJobWithRun(t, jobRepo, "mlrun-3")

	_, err := svc.Get(context.Background(), job.ID, "nope.json")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestArtifactService_Get_NoExperimentRun(t *testing.T) {
	svc, jobRepo, _ := setupArtifact(t)

	job := mustJobWithRun(t, jobRepo, "")

	_, err := svc.Get(context.Background(), job.ID, "metrics.json")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestArtifactService_Get_RunNotFound(t *testing.T) {
	svc, _, _ := setupArtifact(t)

	_, err := svc.Get(context.Background(), "missing-run", "metrics.json")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// mustJobWithRun 直接通过 repo 建一条带实验引用的作业
func mustJobWithRun(t *testing.T, jobRepo *repository.JobRepository, experimentRunID string) *model.TrainingJob {
	t.Helper()

	job := &model.TrainingJob{
		ID:              "job-" + experimentRunID + "-x",
		Status:          model.StatusSucceeded,
		TaskID:          "task-1",
		UserID:          "user-1",
		ExperimentRunID: experimentRunID,
	}
	require.NoError(t, jobRepo.Create(job))
	return job
}
