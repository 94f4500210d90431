package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/api"
	"github.com/visualml/visualml_go_server/internal/api/handler"
	"github.com/visualml/visualml_go_server/internal/database"
	"github.com/visualml/visualml_go_server/internal/pkg/cron"
	"github.com/visualml/visualml_go_server/internal/pkg/mlflow"
	"github.com/visualml/visualml_go_server/internal/pkg/oauth"
	"github.com/visualml/visualml_go_server/internal/pkg/oss"
	"github.com/visualml/visualml_go_server/internal/pkg/pubsub"
	"github.com/visualml/visualml_go_server/internal/pkg/queue"
	"github.com/visualml/visualml_go_server/internal/pkg/ws"
	"github.com/visualml/visualml_go_server/internal/repository"
	"github.com/visualml/visualml_go_server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS（可选）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化 Queue
	trainQueue := queue.NewQueue(rdb, cfg.Queue.TrainQueue)

	// 初始化 WebSocket Hub 并中继训练进度
	wsHub := ws.NewHub()
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			wsHub.SendToUser(msg.UserID, &ws.Message{Type: msg.Type, Data: msg})
		})
		if err != nil && err != context.Canceled {
			log.Printf("Progress subscriber stopped: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	jobRepo := repository.NewJobRepository(db)

	// 初始化 Service
	githubOAuth := oauth.NewGithubOAuth(
		cfg.OAuth.Github.ClientID,
		cfg.OAuth.Github.ClientSecret,
		cfg.OAuth.Github.RedirectURI,
	)
	stateStore := oauth.NewStateStore(rdb)
	authService := service.NewAuthService(userRepo, githubOAuth, stateStore, cfg)
	catalogService := service.NewCatalogService(catalogRepo)
	quotaService := service.NewQuotaService(jobRepo, &cfg.Quota)
	trainService := service.NewTrainService(jobRepo, catalogRepo, quotaService, trainQueue)
	runService := service.NewRunService(jobRepo)
	experimentStore := mlflow.NewClient(cfg.Artifact.ExperimentStoreURI)
	artifactService := service.NewArtifactService(jobRepo, experimentStore)
	uploadService := service.NewUploadService(ossClient, cfg)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	catalogHandler := handler.NewCatalogHandler(catalogService)
	trainHandler := handler.NewTrainHandler(trainService, runService, artifactService)
	uploadHandler := handler.NewUploadHandler(uploadService)
	quotaHandler := handler.NewQuotaHandler(quotaService, &cfg.Quota)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 后台维护：回收 worker 丢失的作业、清理过期数据集
	maintenance := cron.NewService(
		jobRepo,
		catalogRepo,
		cfg.Artifact.Root,
		time.Duration(cfg.Queue.StaleAfterMinutes)*time.Minute,
		time.Duration(cfg.Upload.ExpireHours)*time.Hour,
	)
	maintenance.Start()
	defer maintenance.Stop()

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		catalogHandler,
		trainHandler,
		uploadHandler,
		quotaHandler,
		websocketHandler,
		rdb,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
