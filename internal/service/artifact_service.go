package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/pkg/mlflow"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact 取回的产物内容
type Artifact struct {
	Name        string
	ContentType string
	// JSON 为 .json 产物解析后的结构；其余类型走 Bytes 原样返回
	JSON  interface{}
	Bytes []byte
}

// ArtifactService 产物代理（只读）。UI 不直连实验存储，
// 统一经由本服务按 run + 名字取回。
type ArtifactService struct {
	jobRepo *repository.JobRepository
	store   *mlflow.Client
}

func NewArtifactService(jobRepo *repository.JobRepository, store *mlflow.Client) *ArtifactService {
	return &ArtifactService{jobRepo: jobRepo, store: store}
}

// Get 取回 runID 的命名产物。run 不存在、run 没有实验存储引用、
// 产物不存在统一映射为 ErrArtifactNotFound。
func (s *ArtifactService) Get(ctx context.Context, runID, name string) (*Artifact, error) {
	job, err := s.jobRepo.GetByID(runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if job.ExperimentRunID == "" {
		return nil, ErrArtifactNotFound
	}

	tmpDir, err := os.MkdirTemp("", "artifact-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Printf("Failed to clean artifact temp dir %s: %v", tmpDir, err)
		}
	}()

	localPath, err := s.store.DownloadArtifact(ctx, job.ExperimentRunID, name, tmpDir)
	if err != nil {
		if errors.Is(err, mlflow.ErrArtifactNotFound) {
			return nil, ErrArtifactNotFound
		}
		return nil, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}

	art := &Artifact{Name: name, ContentType: contentTypeFor(name)}
	if strings.EqualFold(filepath.Ext(name), ".json") {
		var parsed interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, err
		}
		art.JSON = parsed
	} else {
		art.Bytes = data
	}
	return art, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".svg":
		return "image/svg+xml"
	case ".html":
		return "text/html; charset=utf-8"
	case ".csv":
		return "text/csv"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
