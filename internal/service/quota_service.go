package service

import (
	"fmt"

	"github.com/visualml/visualml_go_server/config"
	"github.com/visualml/visualml_go_server/internal/repository"
)

// Decision 准入判定结果。Reasons 为空即放行。
type Decision struct {
	OK      bool
	Reasons []string
}

// QuotaService 并发准入控制。乐观门：统计时刻与插入时刻之间不做预留，
// 并发提交可能短暂超限，由上限留的余量吸收。
type QuotaService struct {
	jobRepo *repository.JobRepository
	cfg     *config.QuotaConfig
}

func NewQuotaService(jobRepo *repository.JobRepository, cfg *config.QuotaConfig) *QuotaService {
	return &QuotaService{jobRepo: jobRepo, cfg: cfg}
}

// Decide 判定 userID 是否允许再提交一个作业。
// 两个维度独立判定，拒绝时汇总所有命中的原因。
func (s *QuotaService) Decide(userID string) (*Decision, error) {
	var reasons []string

	if s.cfg.UserMaxActive > 0 {
		userActive, err := s.jobRepo.CountActive(userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count user active runs: %w", err)
		}
		if userActive >= int64(s.cfg.UserMaxActive) {
			reasons = append(reasons, fmt.Sprintf(
				"user active runs limit reached (%d/%d)", userActive, s.cfg.UserMaxActive))
		}
	}

	if s.cfg.GlobalMaxActive > 0 {
		globalActive, err := s.jobRepo.CountActive("")
		if err != nil {
			return nil, fmt.Errorf("failed to count global active runs: %w", err)
		}
		if globalActive >= int64(s.cfg.GlobalMaxActive) {
			reasons = append(reasons, fmt.Sprintf(
				"global active runs limit reached (%d/%d)", globalActive, s.cfg.GlobalMaxActive))
		}
	}

	return &Decision{OK: len(reasons) == 0, Reasons: reasons}, nil
}

// ActiveCounts 当前活跃作业数（管理接口用）
func (s *QuotaService) ActiveCounts(userID string) (user int64, global int64, err error) {
	if user, err = s.jobRepo.CountActive(userID); err != nil {
		return 0, 0, err
	}
	if global, err = s.jobRepo.CountActive(""); err != nil {
		return 0, 0, err
	}
	return user, global, nil
}
