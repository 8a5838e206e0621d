package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// RunStatus 定义生成运行的所有可能状态
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"   // 未运行（初始态/重置态）
	RunStatusQueued    RunStatus = "queued"    // 已入队等待
	RunStatusRunning   RunStatus = "running"   // 正在执行
	RunStatusSucceeded RunStatus = "succeeded" // 执行成功
	RunStatusFailed    RunStatus = "failed"    // 执行失败
	RunStatusCanceled  RunStatus = "canceled"  // 被取消
)

// RunTransition 定义运行状态迁移
type RunTransition struct {
	From RunStatus
	To   RunStatus
}

// RunStateMachine 生成运行状态机
type RunStateMachine struct {
	allowedTransitions map[RunTransition]bool
}

// NewRunStateMachine 创建新的运行状态机
func NewRunStateMachine() *RunStateMachine {
	sm := &RunStateMachine{
		allowedTransitions: make(map[RunTransition]bool),
	}

	// 合法的状态迁移路径
	// pending -> queued -> running -> succeeded/failed
	// running -> failed（超时/异常）
	// queued/running -> canceled（用户取消）
	// failed/canceled -> queued（断点恢复重新入队）
	// failed/succeeded/canceled -> pending（reset）
	transitions := []RunTransition{
		{RunStatusPending, RunStatusQueued},
		{RunStatusQueued, RunStatusRunning},
		{RunStatusRunning, RunStatusSucceeded},
		{RunStatusRunning, RunStatusFailed},

		{RunStatusFailed, RunStatusQueued},
		{RunStatusCanceled, RunStatusQueued},

		{RunStatusFailed, RunStatusPending},
		{RunStatusSucceeded, RunStatusPending},
		{RunStatusCanceled, RunStatusPending},

		{RunStatusQueued, RunStatusCanceled},
		{RunStatusRunning, RunStatusCanceled},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *RunStateMachine) CanTransition(from, to RunStatus) bool {
	if from == to {
		return false // 不允许状态不变
	}
	return sm.allowedTransitions[RunTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *RunStateMachine) ValidateTransition(from, to RunStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *RunStateMachine) Transition(from, to RunStatus, runID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("运行状态迁移被拒绝: runID=%s, %s -> %s, error=%v",
			runID, from, to, err)
		return err
	}

	klog.V(6).Infof("运行状态迁移成功: runID=%s, %s -> %s", runID, from, to)
	return nil
}

// InvalidStateTransitionError 无效的状态迁移错误
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid run state transition: %s -> %s", e.From, e.To)
}

// IsTerminal 判断状态是否为终止态
func IsTerminal(status RunStatus) bool {
	return status == RunStatusSucceeded || status == RunStatusFailed || status == RunStatusCanceled
}

// IsActive 判断运行是否处于活跃状态（包括queued和running）
func IsActive(status RunStatus) bool {
	return status == RunStatusQueued || status == RunStatusRunning
}
