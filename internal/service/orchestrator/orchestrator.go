package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// Job 一次待执行的生成运行
type Job struct {
	RunID      string
	EnqueuedAt time.Time
	RetryCount int // 分发重试计数，不是工作流内部的校验重试
	MaxRetries int
	Timeout    time.Duration
}

// RunExecutor 运行执行器接口，由上层服务实现
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID string) error
}

// Orchestrator 生成运行调度器
// 控制同时执行的运行数量，并保证同一个运行同一时刻只有一个执行者，
// 这是检查点快照单写者约束的前提
type Orchestrator struct {
	jobQueue    *jobQueue
	retryQueue  *jobQueue
	retryTicker *time.Ticker

	pool *ants.Pool

	executor RunExecutor

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	activeRuns          map[string]struct{}
	activeCancellations map[string]context.CancelFunc
	activeMutex         sync.Mutex
}

var (
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
	ErrQueueFull           = errors.New("job queue is full")
)

// NewRunJob 创建一个新的运行任务，初始化分发重试上限与超时
func NewRunJob(runID string, timeout time.Duration) *Job {
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	return &Job{
		RunID:      runID,
		EnqueuedAt: time.Now(),
		RetryCount: 0,
		MaxRetries: 5,
		Timeout:    timeout,
	}
}

func NewOrchestrator(maxWorkers int, executor RunExecutor) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	jobQ := newJobQueue(120)
	retryQ := newJobQueue(120)

	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(1000),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		cancel()
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	return &Orchestrator{
		jobQueue:            jobQ,
		retryQueue:          retryQ,
		retryTicker:         time.NewTicker(500 * time.Millisecond),
		pool:                pool,
		executor:            executor,
		ctx:                 ctx,
		cancel:              cancel,
		activeRuns:          make(map[string]struct{}),
		activeCancellations: make(map[string]context.CancelFunc),
	}, nil
}

func (o *Orchestrator) Start() {
	go o.dispatchLoop()
	go o.processRetryQueue()
}

// Stop 停止接收新任务，等待队列排空和执行中的运行结束
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("Orchestrator stopping...")

		o.cancel()
		o.jobQueue.Close()
		o.retryQueue.Close()

		for {
			if o.jobQueue.Len() == 0 && o.retryQueue.Len() == 0 {
				break
			}
			time.Sleep(100 * time.Millisecond)
			klog.V(6).Infof("Waiting for queues to empty: main=%d, retry=%d", o.jobQueue.Len(), o.retryQueue.Len())
		}

		running := o.pool.Running()
		if running > 0 {
			klog.V(6).Infof("Waiting for %d running jobs to complete", running)
		}

		// 等待时长需覆盖单个运行的超时
		timeout := 65 * time.Minute
		if err := o.pool.ReleaseTimeout(timeout); err != nil {
			klog.Warningf("Timeout after %v: some running jobs may be forced to stop", timeout)
		}

		klog.V(6).Infof("Orchestrator stopped completely")
	})
}

// EnqueueJob 入队一个运行任务
func (o *Orchestrator) EnqueueJob(job *Job) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}

	if err := o.jobQueue.Enqueue(job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			klog.Warningf("Job queue full: runID=%s", job.RunID)
		}
		return err
	}
	klog.V(6).Infof("Job enqueued: runID=%s", job.RunID)
	return nil
}

// CancelRun 取消一个正在执行的运行，返回是否有执行中的运行被取消
func (o *Orchestrator) CancelRun(runID string) bool {
	o.activeMutex.Lock()
	cancel, ok := o.activeCancellations[runID]
	o.activeMutex.Unlock()
	if !ok {
		return false
	}

	klog.V(6).Infof("Cancelling run: runID=%s", runID)
	cancel()
	return true
}

// acquireRun 抢占运行锁，同一运行同时只能有一个执行者
func (o *Orchestrator) acquireRun(runID string, cancel context.CancelFunc) bool {
	o.activeMutex.Lock()
	defer o.activeMutex.Unlock()
	if _, busy := o.activeRuns[runID]; busy {
		return false
	}
	o.activeRuns[runID] = struct{}{}
	o.activeCancellations[runID] = cancel
	return true
}

func (o *Orchestrator) releaseRun(runID string) {
	o.activeMutex.Lock()
	defer o.activeMutex.Unlock()
	delete(o.activeRuns, runID)
	delete(o.activeCancellations, runID)
}

func (o *Orchestrator) dispatchLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		default:
			job, ok := o.jobQueue.Dequeue()
			if !ok {
				continue
			}
			o.tryDispatch(job)
		}
	}
}

func (o *Orchestrator) processRetryQueue() {
	defer o.retryTicker.Stop()
	// 协程级防护，避免循环退出
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Retry queue loop panic recovered: %v", r)
		}
	}()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.retryTicker.C:
			for range 10 {
				job, ok := o.retryQueue.Dequeue()
				if !ok {
					break
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							klog.Errorf("Retry dispatch panic: runID=%s, err=%v", job.RunID, r)
						}
					}()
					o.tryDispatch(job)
				}()
			}
		}
	}
}

// tryDispatch 尝试把任务提交到协程池，失败时按重试上限转入重试队列
func (o *Orchestrator) tryDispatch(job *Job) {
	if job.MaxRetries <= 0 || job.RetryCount >= job.MaxRetries {
		klog.Warningf("任务重试已达上限，放弃入队: runID=%s, retry=%d/%d", job.RunID, job.RetryCount, job.MaxRetries)
		return
	}
	if err := o.pool.Submit(func() {
		o.executeJob(job)
	}); err == nil {
		return
	} else {
		klog.Errorf("提交任务到协程池失败: runID=%s, err=%v", job.RunID, err)
	}

	job.RetryCount++
	if err := o.retryQueue.Enqueue(job); err != nil {
		klog.Errorf("任务重试入队失败: runID=%s, err=%v", job.RunID, err)
	}
}

// executeJob 执行单个运行
// 运行锁被占用时转入重试队列稍后再试，执行失败不在这里重试，
// 工作流引擎自己管理校验重试，彻底失败的运行等待用户恢复
func (o *Orchestrator) executeJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Run panic recovered: runID=%s, err=%v", job.RunID, r)
			o.releaseRun(job.RunID)
		}
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Minute
	}
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	defer cancel()
	runCtx, manualCancel := context.WithCancel(ctx)
	defer manualCancel()

	if !o.acquireRun(job.RunID, manualCancel) {
		klog.V(6).Infof("运行正在执行中，稍后重试: runID=%s", job.RunID)
		job.RetryCount++
		if job.RetryCount < job.MaxRetries {
			if err := o.retryQueue.Enqueue(job); err != nil {
				klog.Errorf("任务重试入队失败: runID=%s, err=%v", job.RunID, err)
			}
		}
		return
	}
	defer o.releaseRun(job.RunID)

	if err := o.executor.ExecuteRun(runCtx, job.RunID); err != nil {
		klog.Errorf("运行执行失败: runID=%s, err=%v", job.RunID, err)
		return
	}
	klog.V(6).Infof("Run completed: runID=%s", job.RunID)
}

// QueueStatus 队列状态
type QueueStatus struct {
	QueueLength   int `json:"queue_length"`
	ActiveWorkers int `json:"active_workers"`
	ActiveRuns    int `json:"active_runs"`
}

func (o *Orchestrator) GetQueueStatus() *QueueStatus {
	o.activeMutex.Lock()
	active := len(o.activeRuns)
	o.activeMutex.Unlock()
	return &QueueStatus{
		QueueLength:   o.jobQueue.Len(),
		ActiveWorkers: o.pool.Running(),
		ActiveRuns:    active,
	}
}

// jobQueue 有界队列，满时拒绝新任务
type jobQueue struct {
	maxSize int
	items   []*Job
	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{
		maxSize: maxSize,
		items:   make([]*Job, 0, maxSize),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) Enqueue(job *Job) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrOrchestratorStopped
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

func (q *jobQueue) Dequeue() (*Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *jobQueue) Close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
}

// -------------------- Global Orchestrator --------------------
var (
	globalOrchestrator *Orchestrator
	orchestratorOnce   sync.Once
)

func InitGlobalOrchestrator(maxWorkers int, executor RunExecutor) error {
	var initErr error
	orchestratorOnce.Do(func() {
		orch, err := NewOrchestrator(maxWorkers, executor)
		if err != nil {
			initErr = err
			return
		}
		globalOrchestrator = orch
		globalOrchestrator.Start()
		klog.V(6).Infof("Global orchestrator initialized: maxWorkers=%d", maxWorkers)
	})
	return initErr
}

func GetGlobalOrchestrator() *Orchestrator {
	return globalOrchestrator
}

func ShutdownGlobalOrchestrator() {
	if globalOrchestrator != nil {
		globalOrchestrator.Stop()
		klog.V(6).Infof("Global orchestrator shutdown")
	}
}
