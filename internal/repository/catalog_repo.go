package repository

import (
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
)

// CatalogRepository 项目/分析/任务的关系型目录
type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ---------- Projects ----------

func (r *CatalogRepository) CreateProject(p *model.Project) error {
	return r.db.Create(p).Error
}

func (r *CatalogRepository) GetProject(id string) (*model.Project, error) {
	var p model.Project
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *CatalogRepository) ListProjects() ([]*model.Project, error) {
	var projects []*model.Project
	err := r.db.Order("created_at DESC").Find(&projects).Error
	return projects, err
}

// DeleteProjectCascade 级联删除项目及其分析、任务，返回删除的分析数
func (r *CatalogRepository) DeleteProjectCascade(id string) (int, error) {
	var deleted int
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var analysisIDs []string
		if err := tx.Model(&model.Analysis{}).Where("project_id = ?", id).
			Pluck("id", &analysisIDs).Error; err != nil {
			return err
		}

		if len(analysisIDs) > 0 {
			if err := tx.Where("analysis_id IN ?", analysisIDs).
				Delete(&model.MLTask{}).Error; err != nil {
				return err
			}
			if err := tx.Where("project_id = ?", id).
				Delete(&model.Analysis{}).Error; err != nil {
				return err
			}
		}

		deleted = len(analysisIDs)
		return tx.Where("id = ?", id).Delete(&model.Project{}).Error
	})
	return deleted, err
}

// ---------- Analyses ----------

func (r *CatalogRepository) CreateAnalysis(a *model.Analysis) error {
	return r.db.Create(a).Error
}

func (r *CatalogRepository) GetAnalysis(id string) (*model.Analysis, error) {
	var a model.Analysis
	err := r.db.Where("id = ?", id).First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *CatalogRepository) ListAnalyses(projectID string) ([]*model.Analysis, error) {
	var analyses []*model.Analysis
	err := r.db.Where("project_id = ?", projectID).
		Order("created_at DESC").Find(&analyses).Error
	return analyses, err
}

// ListDatasetURIs 所有被分析引用的数据集 URI（清理任务用）
func (r *CatalogRepository) ListDatasetURIs() ([]string, error) {
	var uris []string
	err := r.db.Model(&model.Analysis{}).Distinct().Pluck("dataset_uri", &uris).Error
	return uris, err
}

// ---------- Tasks ----------

func (r *CatalogRepository) CreateTask(t *model.MLTask) error {
	return r.db.Create(t).Error
}

func (r *CatalogRepository) GetTask(id string) (*model.MLTask, error) {
	var t model.MLTask
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *CatalogRepository) ListTasks(analysisID string) ([]*model.MLTask, error) {
	var tasks []*model.MLTask
	err := r.db.Where("analysis_id = ?", analysisID).
		Order("created_at DESC").Find(&tasks).Error
	return tasks, err
}
