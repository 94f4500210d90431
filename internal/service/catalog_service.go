package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/model/dto"
	"github.com/visualml/visualml_go_server/internal/repository"
)

var ErrProjectNotFound = errors.New("project not found")

// 支持的任务类型与模型族。超参数在任务创建时校验，
// 入队时不再校验（快照原样传给 trainer）。
var (
	validTaskTypes = map[string]bool{
		"classification": true,
		"regression":     true,
	}
	validModelFamilies = map[string]bool{
		"random_forest":       true,
		"gradient_boosting":   true,
		"logistic_regression": true,
		"linear_regression":   true,
		"svm":                 true,
		"mlp":                 true,
	}
)

// CatalogService 项目/分析/任务目录
type CatalogService struct {
	catalogRepo *repository.CatalogRepository
}

func NewCatalogService(catalogRepo *repository.CatalogRepository) *CatalogService {
	return &CatalogService{catalogRepo: catalogRepo}
}

// ---------- Projects ----------

func (s *CatalogService) CreateProject(req *dto.CreateProjectRequest) (*model.Project, error) {
	p := &model.Project{
		ID:   uuid.NewString(),
		Name: req.Name,
	}
	if err := s.catalogRepo.CreateProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *CatalogService) ListProjects() ([]*model.Project, error) {
	return s.catalogRepo.ListProjects()
}

func (s *CatalogService) DeleteProject(id string) (*dto.DeleteProjectResponse, error) {
	if _, err := s.catalogRepo.GetProject(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}

	deleted, err := s.catalogRepo.DeleteProjectCascade(id)
	if err != nil {
		return nil, err
	}
	return &dto.DeleteProjectResponse{
		OK:              true,
		DeletedProject:  id,
		DeletedAnalyses: deleted,
	}, nil
}

// ---------- Analyses ----------

func (s *CatalogService) CreateAnalysis(req *dto.CreateAnalysisRequest) (*model.Analysis, error) {
	if _, err := s.catalogRepo.GetProject(req.ProjectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = req.DatasetOriginalName
	}

	a := &model.Analysis{
		ID:                  uuid.NewString(),
		ProjectID:           req.ProjectID,
		Name:                name,
		DatasetURI:          req.DatasetURI,
		DatasetOriginalName: req.DatasetOriginalName,
	}
	if err := s.catalogRepo.CreateAnalysis(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *CatalogService) GetAnalysis(id string) (*model.Analysis, error) {
	a, err := s.catalogRepo.GetAnalysis(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *CatalogService) ListAnalyses(projectID string) ([]*model.Analysis, error) {
	return s.catalogRepo.ListAnalyses(projectID)
}

// ---------- Tasks ----------

func (s *CatalogService) CreateTask(req *dto.CreateTaskRequest) (*model.MLTask, error) {
	if _, err := s.catalogRepo.GetAnalysis(req.AnalysisID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnalysisNotFound
		}
		return nil, err
	}

	if !validTaskTypes[req.TaskType] {
		return nil, fmt.Errorf("unsupported task type %q", req.TaskType)
	}
	family := req.ModelFamily
	if family == "" {
		family = "random_forest"
	}
	if !validModelFamilies[family] {
		return nil, fmt.Errorf("unsupported model family %q", family)
	}

	split := req.Split
	if split == nil {
		split = model.JSONMap{"test_size": 0.2, "random_state": 42}
	}

	t := &model.MLTask{
		ID:          uuid.NewString(),
		AnalysisID:  req.AnalysisID,
		TaskType:    req.TaskType,
		Target:      req.Target,
		Split:       split,
		ModelFamily: family,
		ModelParams: req.ModelParams,
		Status:      "ready",
	}
	if err := s.catalogRepo.CreateTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *CatalogService) GetTask(id string) (*model.MLTask, error) {
	t, err := s.catalogRepo.GetTask(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *CatalogService) ListTasks(analysisID string) ([]*model.MLTask, error) {
	return s.catalogRepo.ListTasks(analysisID)
}
