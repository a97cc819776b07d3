package fetch

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/logging"
)

// DispatchMode 控制缓存命中结果的回调方式。
type DispatchMode int

const (
	// DispatchImmediate 是测试模式：stub/内存/磁盘命中在调用方 goroutine 上
	// 同步回调，调用返回前即可观察到副作用。网络结果仍投递到主执行上下文。
	DispatchImmediate DispatchMode = iota
	// DispatchPosted 是生产模式：所有结果都投递到主执行上下文。
	DispatchPosted
)

func (m DispatchMode) String() string {
	if m == DispatchPosted {
		return "production"
	}
	return "testing"
}

// ParseDispatchMode 将配置中的 production/testing 映射为 DispatchMode。
func ParseDispatchMode(raw string) (DispatchMode, bool) {
	switch raw {
	case "", "testing", "immediate":
		return DispatchImmediate, true
	case "production", "posted":
		return DispatchPosted, true
	}
	return DispatchImmediate, false
}

// Executor 是回调投递的目标执行上下文。
type Executor interface {
	Post(task func())
}

// MainLoop 是单 goroutine 串行执行器，Post 从不阻塞且保持投递顺序。
type MainLoop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
	logger  *logrus.Logger
}

// NewMainLoop 启动主执行上下文；单个任务 panic 会被记录，不会终止主 goroutine。
func NewMainLoop(logger *logrus.Logger) *MainLoop {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	loop := &MainLoop{done: make(chan struct{}), logger: logger}
	loop.cond = sync.NewCond(&loop.mu)
	go loop.run()
	return loop
}

// Post 将任务加入队列；关闭后的投递被丢弃。
func (l *MainLoop) Post(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.pending = append(l.pending, task)
	l.cond.Signal()
}

// Close 在执行完已排队的任务后退出，并等待主 goroutine 结束。
func (l *MainLoop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.cond.Signal()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *MainLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 && l.closed {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, task := range batch {
			l.runTask(task)
		}
	}
}

func (l *MainLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"action": "dispatch",
				"error":  fmt.Sprintf("panic: %v", r),
			}).Error("callback_panic")
		}
	}()
	task()
}
