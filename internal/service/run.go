package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/bidwriter/backend/config"
	"github.com/bidwriter/backend/internal/eventbus"
	"github.com/bidwriter/backend/internal/model"
	"github.com/bidwriter/backend/internal/repository"
	"github.com/bidwriter/backend/internal/service/checkpoint"
	"github.com/bidwriter/backend/internal/service/orchestrator"
	"github.com/bidwriter/backend/internal/service/render"
	"github.com/bidwriter/backend/internal/service/statemachine"
	"github.com/bidwriter/backend/internal/service/validation"
	"github.com/bidwriter/backend/internal/service/workflow"
)

// RunService 生成运行服务
// 负责运行的创建、入队、取消、恢复，并作为调度器的执行器驱动工作流
type RunService struct {
	cfg          *config.Config
	projectRepo  repository.ProjectRepository
	runRepo      repository.RunRepository
	store        *checkpoint.Store
	provider     workflow.Provider
	stateMachine *statemachine.RunStateMachine
	bus          *eventbus.RunEventBus
	orchestrator *orchestrator.Orchestrator
}

func NewRunService(cfg *config.Config, projectRepo repository.ProjectRepository, runRepo repository.RunRepository,
	store *checkpoint.Store, provider workflow.Provider, bus *eventbus.RunEventBus) *RunService {
	return &RunService{
		cfg:          cfg,
		projectRepo:  projectRepo,
		runRepo:      runRepo,
		store:        store,
		provider:     provider,
		stateMachine: statemachine.NewRunStateMachine(),
		bus:          bus,
	}
}

// SetOrchestrator 设置运行调度器
// 调度器的执行器又是本服务，分两步组装避免循环依赖
func (s *RunService) SetOrchestrator(o *orchestrator.Orchestrator) {
	s.orchestrator = o
}

// Start 为项目创建一次新的生成运行并入队
func (s *RunService) Start(projectID uint) (*model.GenerationRun, error) {
	project, err := s.projectRepo.Get(projectID)
	if err != nil {
		return nil, err
	}
	if project.SourceText == "" {
		return nil, fmt.Errorf("项目还没有导入招标文件")
	}

	run := &model.GenerationRun{
		ProjectID: projectID,
		RunID:     uuid.NewString(),
		Status:    string(statemachine.RunStatusPending),
	}
	if err := s.runRepo.Create(run); err != nil {
		return nil, fmt.Errorf("创建运行记录失败: %w", err)
	}

	if err := s.enqueue(run); err != nil {
		return nil, err
	}

	project.Status = ProjectStatusGenerating
	if err := s.projectRepo.Save(project); err != nil {
		klog.Errorf("更新项目状态失败 projectID=%d: %v", projectID, err)
	}
	return run, nil
}

// Resume 恢复一次失败或取消的运行，从最近的检查点继续
func (s *RunService) Resume(runID string) (*model.GenerationRun, error) {
	run, err := s.runRepo.GetByRunID(runID)
	if err != nil {
		return nil, err
	}
	if err := s.stateMachine.ValidateTransition(
		statemachine.RunStatus(run.Status), statemachine.RunStatusQueued); err != nil {
		return nil, fmt.Errorf("当前状态 %s 不允许恢复: %w", run.Status, err)
	}
	if err := s.enqueue(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RunService) enqueue(run *model.GenerationRun) error {
	if s.orchestrator == nil {
		return fmt.Errorf("调度器未初始化")
	}
	if err := s.transition(run, statemachine.RunStatusQueued, ""); err != nil {
		return err
	}
	job := orchestrator.NewRunJob(run.RunID, s.runTimeout())
	if err := s.orchestrator.EnqueueJob(job); err != nil {
		// 入队失败回滚到失败态，等待用户重试
		if rbErr := s.transition(run, statemachine.RunStatusFailed, err.Error()); rbErr != nil {
			klog.Errorf("入队失败后状态回滚失败 runID=%s: %v", run.RunID, rbErr)
		}
		return fmt.Errorf("运行入队失败: %w", err)
	}
	return nil
}

// runTimeout 整次运行的超时，覆盖全部阶段
func (s *RunService) runTimeout() time.Duration {
	timeout := s.cfg.Workflow.PhaseTimeout * 3
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	return timeout
}

// Cancel 取消一次排队或执行中的运行
func (s *RunService) Cancel(runID string) error {
	run, err := s.runRepo.GetByRunID(runID)
	if err != nil {
		return err
	}
	if err := s.stateMachine.ValidateTransition(
		statemachine.RunStatus(run.Status), statemachine.RunStatusCanceled); err != nil {
		return fmt.Errorf("当前状态 %s 不允许取消: %w", run.Status, err)
	}

	if s.orchestrator != nil {
		s.orchestrator.CancelRun(runID)
	}
	return s.transition(run, statemachine.RunStatusCanceled, "用户取消")
}

// Get 查询运行详情
func (s *RunService) Get(runID string) (*model.GenerationRun, error) {
	return s.runRepo.GetByRunID(runID)
}

// GetByProject 查询项目下的全部运行
func (s *RunService) GetByProject(projectID uint) ([]model.GenerationRun, error) {
	return s.runRepo.GetByProject(projectID)
}

// Checkpoints 查询运行的检查点列表
func (s *RunService) Checkpoints(runID string) ([]model.RunCheckpoint, error) {
	return s.store.List(runID)
}

// ExecuteRun 实现 orchestrator.RunExecutor，由调度器在工作协程中调用
// 有检查点则恢复，没有则从头执行，结束后渲染文档并落终态
func (s *RunService) ExecuteRun(ctx context.Context, runID string) error {
	run, err := s.runRepo.GetByRunID(runID)
	if err != nil {
		return err
	}
	if err := s.transition(run, statemachine.RunStatusRunning, ""); err != nil {
		return err
	}
	now := time.Now()
	run.StartedAt = &now
	run.ErrorMsg = ""
	if err := s.runRepo.Save(run); err != nil {
		klog.Errorf("保存运行开始时间失败 runID=%s: %v", runID, err)
	}

	engine := s.buildEngine()
	state, err := s.execute(ctx, engine, run)
	if err != nil {
		return s.finishFailed(ctx, run, err)
	}
	return s.finishSucceeded(ctx, run, state)
}

func (s *RunService) buildEngine() *workflow.Engine {
	var validator *validation.Engine
	if s.cfg.Workflow.EnableValidation {
		validator = validation.NewEngine(s.provider)
	}
	engine := workflow.NewEngine(s.provider, validator, s.store, s.cfg.Workflow)
	engine.SetProgressFunc(func(state *workflow.WorkflowState, phase workflow.Phase, progress int) {
		event := eventbus.RunEvent{
			Type:     eventbus.RunEventPhaseCompleted,
			RunID:    state.RunID,
			Phase:    string(phase),
			Progress: progress,
		}
		if err := s.bus.Publish(context.Background(), event.Type, event); err != nil {
			klog.Errorf("发布阶段进度事件失败 runID=%s: %v", state.RunID, err)
		}
	})
	return engine
}

func (s *RunService) execute(ctx context.Context, engine *workflow.Engine, run *model.GenerationRun) (*workflow.WorkflowState, error) {
	state, err := engine.Resume(ctx, run.RunID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, workflow.ErrNoCheckpoint) {
		return state, err
	}

	// 没有检查点，从头执行
	project, err := s.projectRepo.Get(run.ProjectID)
	if err != nil {
		return nil, err
	}
	state = workflow.NewWorkflowState(run.RunID, project.SourceText, workflow.Options{
		EnableValidation:      s.cfg.Workflow.EnableValidation,
		EnableDifferentiation: s.cfg.Workflow.EnableDifferentiation,
	})
	if err := engine.Run(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

func (s *RunService) finishSucceeded(ctx context.Context, run *model.GenerationRun, state *workflow.WorkflowState) error {
	project, err := s.projectRepo.Get(run.ProjectID)
	if err != nil {
		return s.finishFailed(ctx, run, err)
	}

	outputPath := filepath.Join(s.cfg.Data.OutputDir, fmt.Sprintf("%s-%s.docx", project.Name, run.RunID[:8]))
	if err := render.RenderDocx(state.FlatSections, project.Name, outputPath); err != nil {
		return s.finishFailed(ctx, run, err)
	}

	run.OutputPath = outputPath
	run.Progress = 100
	run.CurrentPhase = string(workflow.PhaseDone)
	now := time.Now()
	run.CompletedAt = &now
	if err := s.transition(run, statemachine.RunStatusSucceeded, ""); err != nil {
		return err
	}

	project.Status = ProjectStatusCompleted
	project.ErrorMsg = ""
	if err := s.projectRepo.Save(project); err != nil {
		klog.Errorf("更新项目状态失败 projectID=%d: %v", project.ID, err)
	}
	klog.Infof("运行成功 runID=%s output=%s", run.RunID, outputPath)
	return nil
}

func (s *RunService) finishFailed(ctx context.Context, run *model.GenerationRun, cause error) error {
	// 被取消的运行落取消态而不是失败态
	target := statemachine.RunStatusFailed
	if errors.Is(cause, context.Canceled) {
		target = statemachine.RunStatusCanceled
	}
	now := time.Now()
	run.CompletedAt = &now
	if err := s.transition(run, target, cause.Error()); err != nil {
		// 取消入口可能已经落了终态
		klog.V(6).Infof("终态迁移被拒绝 runID=%s: %v", run.RunID, err)
		return cause
	}

	if project, err := s.projectRepo.Get(run.ProjectID); err == nil {
		project.Status = ProjectStatusError
		project.ErrorMsg = cause.Error()
		if err := s.projectRepo.Save(project); err != nil {
			klog.Errorf("更新项目状态失败 projectID=%d: %v", project.ID, err)
		}
	}
	klog.Errorf("运行失败 runID=%s: %v", run.RunID, cause)
	return cause
}

// transition 校验并持久化状态迁移，同时发布状态事件
func (s *RunService) transition(run *model.GenerationRun, to statemachine.RunStatus, message string) error {
	from := statemachine.RunStatus(run.Status)
	if err := s.stateMachine.Transition(from, to, run.RunID); err != nil {
		return err
	}
	run.Status = string(to)
	if message != "" {
		run.ErrorMsg = message
	}
	if err := s.runRepo.Save(run); err != nil {
		return fmt.Errorf("保存运行状态失败: %w", err)
	}

	event := eventbus.RunEvent{
		Type:    eventbus.RunEventStatusChanged,
		RunID:   run.RunID,
		Status:  run.Status,
		Message: message,
	}
	if err := s.bus.Publish(context.Background(), event.Type, event); err != nil {
		klog.Errorf("发布状态变化事件失败 runID=%s: %v", run.RunID, err)
	}
	return nil
}

// CleanupStuckRuns 服务重启后清理卡在执行态的运行
func (s *RunService) CleanupStuckRuns() {
	count, err := s.runRepo.CleanupStuckRuns(s.runTimeout())
	if err != nil {
		klog.Errorf("清理卡住的运行失败: %v", err)
		return
	}
	if count > 0 {
		klog.Infof("已清理 %d 个卡住的运行", count)
	}
}
