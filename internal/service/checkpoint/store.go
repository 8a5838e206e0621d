package checkpoint

import (
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/internal/model"
	"github.com/bidwriter/backend/internal/repository"
)

// Store 检查点存取服务
// 检查点只追加不修改，step_order 由当前数量推导，保证单调递增
type Store struct {
	repo repository.CheckpointRepository
}

func NewStore(repo repository.CheckpointRepository) *Store {
	return &Store{repo: repo}
}

// Save 两段式落盘：先写入未完成记录，再标记完成
// 中途崩溃只会留下未完成记录，恢复时会被 LatestCompleted 跳过
func (s *Store) Save(runID, stepName, snapshot string) error {
	count, err := s.repo.CountByRun(runID)
	if err != nil {
		return fmt.Errorf("统计检查点数量失败: %w", err)
	}

	cp := &model.RunCheckpoint{
		RunID:     runID,
		StepName:  stepName,
		StepOrder: int(count) + 1,
		StateData: snapshot,
	}
	if err := s.repo.Create(cp); err != nil {
		return fmt.Errorf("创建检查点失败: %w", err)
	}
	if err := s.repo.Complete(cp.ID); err != nil {
		return fmt.Errorf("标记检查点完成失败: %w", err)
	}
	klog.V(6).Infof("检查点已保存 runID=%s step=%s order=%d", runID, stepName, cp.StepOrder)
	return nil
}

// LatestCompleted 返回最近一个完成的检查点，found 为 false 表示还没有检查点
func (s *Store) LatestCompleted(runID string) (stepName, snapshot string, found bool, err error) {
	cp, err := s.repo.LatestCompleted(runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("查询最新检查点失败: %w", err)
	}
	return cp.StepName, cp.StateData, true, nil
}

// List 按写入顺序返回某次运行的全部检查点
func (s *Store) List(runID string) ([]model.RunCheckpoint, error) {
	return s.repo.ListByRun(runID)
}
