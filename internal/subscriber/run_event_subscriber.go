package subscriber

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/internal/eventbus"
	"github.com/bidwriter/backend/internal/repository"
)

// RunEventSubscriber 订阅运行事件并把阶段进度写回运行记录
// 工作流引擎只发事件，不直接接触运行表
type RunEventSubscriber struct {
	runRepo repository.RunRepository
}

func NewRunEventSubscriber(runRepo repository.RunRepository) *RunEventSubscriber {
	return &RunEventSubscriber{runRepo: runRepo}
}

// Register 注册订阅，返回取消函数
func (s *RunEventSubscriber) Register(bus *eventbus.RunEventBus) func() {
	return bus.Subscribe(eventbus.RunEventPhaseCompleted, s.onPhaseCompleted)
}

func (s *RunEventSubscriber) onPhaseCompleted(_ context.Context, event eventbus.RunEvent) error {
	run, err := s.runRepo.GetByRunID(event.RunID)
	if err != nil {
		return fmt.Errorf("查询运行记录失败: %w", err)
	}
	run.CurrentPhase = event.Phase
	run.Progress = event.Progress
	if err := s.runRepo.Save(run); err != nil {
		return fmt.Errorf("保存运行进度失败: %w", err)
	}
	klog.V(6).Infof("运行进度已更新 runID=%s phase=%s progress=%d", event.RunID, event.Phase, event.Progress)
	return nil
}
