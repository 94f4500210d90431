package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/database"
	"github.com/visualml/visualml_go_server/internal/pkg/email"
	"github.com/visualml/visualml_go_server/internal/pkg/oss"
	"github.com/visualml/visualml_go_server/internal/pkg/pubsub"
	"github.com/visualml/visualml_go_server/internal/pkg/queue"
	"github.com/visualml/visualml_go_server/internal/repository"
	"github.com/visualml/visualml_go_server/internal/worker"
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

	// 初始化 Queue 和 Pub/Sub
	trainQueue := queue.NewQueue(rdb, cfg.Queue.TrainQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	jobRepo := repository.NewJobRepository(db)
	userRepo := repository.NewUserRepository(db)

	hostname, _ := os.Hostname()

	emailSvc := email.NewService(&cfg.Email)
	trainer := worker.NewTrainer(&cfg.Worker, cfg.Artifact.ExperimentStoreURI)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	// 启动 worker 循环
	for i := 0; i < cfg.Queue.MaxWorkers; i++ {
		go func(slot int) {
			workerID := fmt.Sprintf("%s-%d", hostname, slot)
			processor := worker.NewProcessor(
				jobRepo, userRepo, ossClient, publisher, emailSvc, trainer, workerID, cfg)

			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %s shutting down", workerID)
					return
				default:
					msg, err := trainQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %s: failed to pop job: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					log.Printf("Worker %s: processing run %s", workerID, msg.RunID)
					if err := processor.Process(ctx, msg); err != nil {
						log.Printf("Worker %s: run %s failed: %v", workerID, msg.RunID, err)
					}
				}
			}
		}(i)
	}

	<-ctx.Done()
	log.Println("Worker shutdown complete")
}
