package pool

import (
	"context"
	"sync"
)

// WorkerPool 投递协程池
//
// 限制并发的出站投递数量，避免事件风暴时创建过多协程拖垮进程。
// 任务 panic 会被捕获并通过 OnPanic 回调上报，不会中断工作协程。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup

	// OnPanic 任务 panic 时的回调，可用于打点和日志；为 nil 时静默恢复
	OnPanic func(recovered interface{})
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大并发投递数
//   - queueSize: 排队中的投递任务上限
func NewWorkerPool(maxWorkers, queueSize int) *WorkerPool {
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交投递任务
//
// 队列已满时阻塞直到有空位
func (p *WorkerPool) Submit(task func()) {
	p.taskQueue <- task
}

// TrySubmit 尝试提交投递任务
//
// 队列已满时立即返回 false，由调用方决定降级策略
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// QueueDepth 当前排队的任务数
func (p *WorkerPool) QueueDepth() int {
	return len(p.taskQueue)
}

// Stop 停止协程池，等待在途投递完成
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			if p.OnPanic != nil {
				p.OnPanic(r)
			}
		}
	}()
	task()
}
