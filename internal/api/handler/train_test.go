package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/api/middleware"
	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/pkg/mlflow"
	"github.com/visualml/visualml_go_server/internal/pkg/queue"
	"github.com/visualml/visualml_go_server/internal/repository"
	"github.com/visualml/visualml_go_server/internal/service"
	"github.com/visualml/visualml_go_server/internal/testutil"
)

type trainAPIFixture struct {
	router     *gin.Engine
	jobRepo    *repository.JobRepository
	taskID     string
	mlrunsRoot string
}

// setupTrainAPI 用真实 service 栈搭起训练相关路由，鉴权用注入 user id 代替
func setupTrainAPI(t *testing.T, quota config.QuotaConfig) *trainAPIFixture {
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
	quotaSvc := service.NewQuotaService(jobRepo, &quota)
	trainSvc := service.NewTrainService(jobRepo, catalogRepo, quotaSvc, q)
	runSvc := service.NewRunService(jobRepo)
	mlrunsRoot := t.TempDir()
	artifactSvc := service.NewArtifactService(jobRepo, mlflow.NewClient("file:"+mlrunsRoot))

	h := NewTrainHandler(trainSvc, runSvc, artifactSvc)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(middleware.UserIDKey, "user-1") })
	r.POST("/tasks/:id/train", h.Enqueue)
	r.GET("/runs", h.GetRuns)
	r.GET("/runs/:id", h.GetRun)
	r.POST("/runs/:id/cancel", h.Cancel)
	r.GET("/runs/:id/artifact", h.GetArtifact)
	r.GET("/runs/:id/artifacts/*name", h.GetArtifact)

	return &trainAPIFixture{router: r, jobRepo: jobRepo, taskID: task.ID, mlrunsRoot: mlrunsRoot}
}

func (f *trainAPIFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTrainAPI_Enqueue(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	// 空 body 也要能入队
	w := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)

	// 重复提交坍缩到同一个 run，返回 200
	w2 := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusOK, w2.Code)
	var resp2 struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp2))
	assert.Equal(t, resp.RunID, resp2.RunID)
}

func TestTrainAPI_Enqueue_TaskNotFound(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	w := f.do("POST", "/tasks/no-such-task/train", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrainAPI_Enqueue_QuotaRejected(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 1})

	w := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// force 绕过去重但不绕过配额
	w = f.do("POST", "/tasks/"+f.taskID+"/train", map[string]interface{}{"force": true})
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Detail  string   `json:"detail"`
		Reasons []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Reasons, "user active runs limit reached (1/1)")
}

func TestTrainAPI_GetRunAndCancel(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	w := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = f.do("GET", "/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, model.StatusQueued, run.Status)

	w = f.do("POST", "/runs/"+resp.RunID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)

	// 取消幂等
	w = f.do("POST", "/runs/"+resp.RunID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, model.StatusCanceled, run.Status)
}

func TestTrainAPI_GetRuns_Batch(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	w := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = f.do("GET", "/runs?ids="+resp.RunID+",missing-run", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var runs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, resp.RunID, runs[0]["id"])
}

func TestTrainAPI_GetRun_NotFound(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	w := f.do("GET", "/runs/no-such-run", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrainAPI_GetArtifact_NotFound(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	w := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// 还没有实验 run，产物一律 404
	w = f.do("GET", "/runs/"+resp.RunID+"/artifacts/metrics.json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// 产物既能走 ?name= 查询参数，也能走通配路径
func TestTrainAPI_GetArtifact_QueryParam(t *testing.T) {
	f := setupTrainAPI(t, config.QuotaConfig{GlobalMaxActive: 32, UserMaxActive: 8})

	w := f.do("POST", "/tasks/"+f.taskID+"/train", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.NoError(t, f.jobRepo.SetFields(resp.RunID, map[string]interface{}{
		"experiment_run_id": "mlrun-api-1",
	}))
	dir := filepath.Join(f.mlrunsRoot, "0", "mlrun-api-1", "artifacts")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metrics.json"), []byte(`{"accuracy":0.88}`), 0644))

	w = f.do("GET", "/runs/"+resp.RunID+"/artifact?name=metrics.json", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "0.88")

	w = f.do("GET", "/runs/"+resp.RunID+"/artifacts/metrics.json", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// 没给产物名 → 400
	w = f.do("GET", "/runs/"+resp.RunID+"/artifact", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
