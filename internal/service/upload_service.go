package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/pkg/oss"
)

var (
	ErrFileTooLarge       = errors.New("file too large")
	ErrInvalidFileType    = errors.New("unsupported file type")
	ErrDatasetNotFound    = errors.New("dataset not found")
	ErrPreviewUnsupported = errors.New("preview only supports csv datasets")
)

const defaultPreviewLimit = 20

// UploadService 数据集上传与预览。配置了 OSS 时数据集进对象存储，
// 否则落在 ARTIFACT_ROOT/datasets 下（file:// URI）。
type UploadService struct {
	ossClient *oss.Client // 可为 nil
	cfg       *config.Config
}

func NewUploadService(ossClient *oss.Client, cfg *config.Config) *UploadService {
	return &UploadService{ossClient: ossClient, cfg: cfg}
}

// Upload 保存数据集，返回 dataset_uri
func (s *UploadService) Upload(filename string, size int64, r io.Reader) (*dto.UploadResponse, error) {
	if s.cfg.Upload.MaxSize > 0 && size > s.cfg.Upload.MaxSize {
		return nil, ErrFileTooLarge
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !s.extAllowed(ext) {
		return nil, ErrInvalidFileType
	}

	objectName := uuid.NewString() + ext

	if s.ossClient != nil {
		uri, err := s.ossClient.UploadDataset("datasets/"+objectName, r, contentTypeFor(filename))
		if err != nil {
			return nil, err
		}
		return &dto.UploadResponse{DatasetURI: uri, OriginalName: filename}, nil
	}

	dir := filepath.Join(s.cfg.Artifact.Root, "datasets")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dest := filepath.Join(dir, objectName)
	out, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		os.Remove(dest)
		return nil, err
	}

	return &dto.UploadResponse{
		DatasetURI:   "file://" + dest,
		OriginalName: filename,
	}, nil
}

// Preview 读取数据集前若干行。仅支持 csv，其余类型由 trainer 侧解析。
func (s *UploadService) Preview(uri string, limit int) (*dto.PreviewResponse, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultPreviewLimit
	}

	localPath, cleanup, err := s.localize(uri)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if strings.ToLower(filepath.Ext(localPath)) != ".csv" {
		return nil, ErrPreviewUnsupported
	}

	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &dto.PreviewResponse{Columns: []string{}, Rows: [][]string{}}, nil
		}
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	rows := make([][]string, 0, limit)
	for len(rows) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		rows = append(rows, record)
	}

	return &dto.PreviewResponse{Columns: header, Rows: rows}, nil
}

// localize 把 dataset_uri 变成本地可读路径。oss:// 下载到临时文件。
func (s *UploadService) localize(uri string) (string, func(), error) {
	noop := func() {}

	switch {
	case strings.HasPrefix(uri, "file://"):
		return strings.TrimPrefix(uri, "file://"), noop, nil

	case oss.IsOSSURI(uri):
		if s.ossClient == nil {
			return "", noop, ErrDatasetNotFound
		}
		key, err := s.ossClient.ObjectKey(uri)
		if err != nil {
			return "", noop, ErrDatasetNotFound
		}

		tmp, err := os.CreateTemp("", "dataset-*"+filepath.Ext(uri))
		if err != nil {
			return "", noop, err
		}
		tmp.Close()

		if err := s.ossClient.DownloadTo(key, tmp.Name()); err != nil {
			os.Remove(tmp.Name())
			return "", noop, ErrDatasetNotFound
		}
		return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil

	default:
		return "", noop, ErrDatasetNotFound
	}
}

func (s *UploadService) extAllowed(ext string) bool {
	for _, allowed := range s.cfg.Upload.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
