package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExecutor struct {
	err   error
	delay time.Duration
	calls int32
}

func (f *fakeExecutor) ExecuteRun(ctx context.Context, runID string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func TestTryDispatchMaxRetriesExhausted(t *testing.T) {
	executor := &fakeExecutor{}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := &Job{
		RunID:      "run-1",
		RetryCount: 1,
		MaxRetries: 1,
		Timeout:    10 * time.Millisecond,
	}

	o.tryDispatch(job)

	if got := o.retryQueue.Len(); got != 0 {
		t.Fatalf("retry queue should be empty, got %d", got)
	}
	if atomic.LoadInt32(&executor.calls) != 0 {
		t.Fatalf("executor should not be called, got %d", executor.calls)
	}
}

func TestTryDispatchExecutesJob(t *testing.T) {
	executor := &fakeExecutor{}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := NewRunJob("run-2", 10*time.Millisecond)
	o.tryDispatch(job)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&executor.calls) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&executor.calls) != 1 {
		t.Fatalf("executor should be called once, got %d", executor.calls)
	}
}

func TestExecuteJobFailureDoesNotRetry(t *testing.T) {
	executor := &fakeExecutor{err: context.DeadlineExceeded}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := NewRunJob("run-3", 50*time.Millisecond)

	start := time.Now()
	o.executeJob(job)
	elapsed := time.Since(start)

	if atomic.LoadInt32(&executor.calls) != 1 {
		t.Fatalf("executor should be called once, got %d", executor.calls)
	}
	if got := o.retryQueue.Len(); got != 0 {
		t.Fatalf("工作流失败不应触发调度层重试, retry queue len=%d", got)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("executeJob took too long: %v", elapsed)
	}
}

func TestExecuteJobSingleWriterPerRun(t *testing.T) {
	executor := &fakeExecutor{delay: 100 * time.Millisecond}
	o, _ := NewOrchestrator(2, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	// 手动占住运行锁，模拟同一运行已有执行者
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !o.acquireRun("run-4", cancel) {
		t.Fatalf("首次抢锁应成功")
	}

	job := NewRunJob("run-4", time.Second)
	o.executeJob(job)

	if atomic.LoadInt32(&executor.calls) != 0 {
		t.Fatalf("锁被占用时不应执行, calls=%d", executor.calls)
	}
	if got := o.retryQueue.Len(); got != 1 {
		t.Fatalf("锁被占用时应转入重试队列, len=%d", got)
	}
	if job.RetryCount != 1 {
		t.Fatalf("重试计数应为1, got %d", job.RetryCount)
	}

	o.releaseRun("run-4")
}

func TestCancelRun(t *testing.T) {
	executor := &fakeExecutor{delay: time.Second}
	o, _ := NewOrchestrator(1, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	done := make(chan struct{})
	go func() {
		o.executeJob(NewRunJob("run-5", 10*time.Second))
		close(done)
	}()

	// 等待运行进入执行态
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&executor.calls) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !o.CancelRun("run-5") {
		t.Fatalf("执行中的运行应可取消")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("取消后运行应尽快退出")
	}

	if o.CancelRun("run-5") {
		t.Fatalf("已结束的运行不应再可取消")
	}
}
