package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/database"
	"github.com/visualml/visualml_go_server/internal/pkg/cron"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var (
	reapStale     = flag.Bool("reap-stale", true, "Mark stale running jobs as error")
	cleanDatasets = flag.Bool("clean-datasets", true, "Remove expired unreferenced dataset files")
	staleMinutes  = flag.Int("stale-minutes", 0, "Override queue.stale_after_minutes (0 = use config)")
)

// 一次性维护入口，供 crontab 或手工运维调用。
// server 进程内建的定时维护覆盖日常场景，这里用于补跑。
func main() {
	flag.Parse()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	jobRepo := repository.NewJobRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	staleAfter := time.Duration(cfg.Queue.StaleAfterMinutes) * time.Minute
	if *staleMinutes > 0 {
		staleAfter = time.Duration(*staleMinutes) * time.Minute
	}

	svc := cron.NewService(
		jobRepo,
		catalogRepo,
		cfg.Artifact.Root,
		staleAfter,
		time.Duration(cfg.Upload.ExpireHours)*time.Hour,
	)

	if *reapStale {
		log.Println("Reaping stale running jobs...")
		svc.ReapStaleJobs()
	}

	if *cleanDatasets {
		log.Println("Cleaning expired dataset files...")
		svc.CleanupDatasets()
	}

	log.Println("Cleanup completed")
}
