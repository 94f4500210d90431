package cron

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/visualml/visualml_go_server/internal/repository"
)

const staleJobMessage = "worker lost: no progress update, marked as error"

// Service 周期性维护任务：
//   - 将长时间无更新的 running 作业标记为 error（worker 丢失；作业可重新提交）
//   - 清理 ARTIFACT_ROOT 下过期且未被任何分析引用的数据集文件
type Service struct {
	jobRepo      *repository.JobRepository
	catalogRepo  *repository.CatalogRepository
	artifactRoot string
	staleAfter   time.Duration
	expireAfter  time.Duration
	stopChan     chan struct{}
}

func NewService(
	jobRepo *repository.JobRepository,
	catalogRepo *repository.CatalogRepository,
	artifactRoot string,
	staleAfter time.Duration,
	expireAfter time.Duration,
) *Service {
	return &Service{
		jobRepo:      jobRepo,
		catalogRepo:  catalogRepo,
		artifactRoot: artifactRoot,
		staleAfter:   staleAfter,
		expireAfter:  expireAfter,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动维护循环
func (s *Service) Start() {
	go s.runStaleReaper()
	go s.runDatasetCleanup()
	log.Println("Cron service started (stale reaper + dataset cleanup)")
}

// Stop 停止维护循环
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runStaleReaper 每 5 分钟回收一次 worker 丢失的作业
func (s *Service) runStaleReaper() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.ReapStaleJobs()
		}
	}
}

// ReapStaleJobs 单次回收，供定时器和 cmd/cleanup 手动触发共用
func (s *Service) ReapStaleJobs() {
	if s.staleAfter <= 0 {
		return
	}
	n, err := s.jobRepo.MarkStaleAsError(s.staleAfter, staleJobMessage)
	if err != nil {
		log.Printf("Stale reaper failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Stale reaper: marked %d running job(s) as error", n)
	}
}

// runDatasetCleanup 每小时清理一次过期数据集
func (s *Service) runDatasetCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.CleanupDatasets()
		}
	}
}

// CleanupDatasets 删除过期且未被引用的本地数据集文件
func (s *Service) CleanupDatasets() {
	if s.artifactRoot == "" || s.expireAfter <= 0 {
		return
	}

	datasetDir := filepath.Join(s.artifactRoot, "datasets")
	entries, err := os.ReadDir(datasetDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Dataset cleanup: failed to read dir %s: %v", datasetDir, err)
		}
		return
	}

	referenced, err := s.referencedDatasetPaths()
	if err != nil {
		log.Printf("Dataset cleanup: failed to query referenced datasets: %v", err)
		return
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(datasetDir, entry.Name())
		if referenced[path] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= s.expireAfter {
			continue
		}

		if err := os.Remove(path); err != nil {
			log.Printf("Dataset cleanup: failed to remove %s: %v", path, err)
		} else {
			cleaned++
		}
	}

	if cleaned > 0 {
		log.Printf("Dataset cleanup: removed %d expired file(s)", cleaned)
	}
}

// referencedDatasetPaths 分析目录中仍被引用的本地数据集路径集合
func (s *Service) referencedDatasetPaths() (map[string]bool, error) {
	uris, err := s.catalogRepo.ListDatasetURIs()
	if err != nil {
		return nil, err
	}

	paths := make(map[string]bool, len(uris))
	for _, uri := range uris {
		const prefix = "file://"
		if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
			paths[uri[len(prefix):]] = true
		}
	}
	return paths, nil
}
