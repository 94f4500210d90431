package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/api/handler"
	"github.com/visualml/visualml_go_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	catalogHandler   *handler.CatalogHandler
	trainHandler     *handler.TrainHandler
	uploadHandler    *handler.UploadHandler
	quotaHandler     *handler.QuotaHandler
	websocketHandler *handler.WebSocketHandler
	rdb              *redis.Client
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	catalogHandler *handler.CatalogHandler,
	trainHandler *handler.TrainHandler,
	uploadHandler *handler.UploadHandler,
	quotaHandler *handler.QuotaHandler,
	websocketHandler *handler.WebSocketHandler,
	rdb *redis.Client,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		catalogHandler:   catalogHandler,
		trainHandler:     trainHandler,
		uploadHandler:    uploadHandler,
		quotaHandler:     quotaHandler,
		websocketHandler: websocketHandler,
		rdb:              rdb,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	base := r.cfg.Server.APIBase
	if base == "" {
		base = "/api"
	}
	api := engine.Group(base)
	{
		// WebSocket（token 经 query 传递，自行校验）
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.GET("/github", r.authHandler.GithubAuth)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 需要认证的接口（内网地址可按配置免 token）
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret, r.cfg.Auth.BypassInternal))
		{
			authenticated.GET("/auth/me", r.authHandler.Me)
			authenticated.GET("/quota", r.quotaHandler.Get)

			// 数据集
			authenticated.POST("/upload", r.uploadHandler.Upload)
			authenticated.GET("/preview", r.uploadHandler.Preview)

			// 目录
			projects := authenticated.Group("/projects")
			{
				projects.POST("", r.catalogHandler.CreateProject)
				projects.GET("", r.catalogHandler.ListProjects)
				projects.DELETE("/:id", r.catalogHandler.DeleteProject)
				projects.GET("/:id/analyses", r.catalogHandler.ListAnalyses)
			}

			analyses := authenticated.Group("/analyses")
			{
				analyses.POST("", r.catalogHandler.CreateAnalysis)
				analyses.GET("/:id", r.catalogHandler.GetAnalysis)
				analyses.GET("/:id/tasks", r.catalogHandler.ListTasks)
			}

			tasks := authenticated.Group("/tasks")
			{
				tasks.POST("", r.catalogHandler.CreateTask)
				tasks.GET("/:id", r.catalogHandler.GetTask)
				tasks.POST("/:id/train", r.trainHandler.Enqueue)
			}

			// 作业状态与产物
			pollInterval := time.Duration(r.cfg.Quota.PollMinIntervalMS) * time.Millisecond
			runs := authenticated.Group("/runs")
			{
				runs.GET("", r.trainHandler.GetRuns)
				runs.GET("/:id", middleware.PollThrottle(r.rdb, pollInterval), r.trainHandler.GetRun)
				runs.POST("/:id/cancel", r.trainHandler.Cancel)
				runs.GET("/:id/artifact", r.trainHandler.GetArtifact)
				runs.GET("/:id/artifacts/*name", r.trainHandler.GetArtifact)
			}
		}
	}

	return engine
}
