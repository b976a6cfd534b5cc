package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const defaultDeliverTimeout = 2 * time.Minute

// QueueOptions 队列参数
type QueueOptions struct {
	Size           int
	Workers        int
	MinSeverity    sshmonitor.Severity
	DeliverTimeout time.Duration
	Enricher       *Enricher
	Logger         *zap.Logger
	Recorder       Recorder
}

// Queue 异步通知队列，实现 sshmonitor.Notifier。
// Notify 从不阻塞：队列满时直接丢弃并返回 ErrQueueFull。
type Queue struct {
	opts     QueueOptions
	channels []Channel
	ch       chan Envelope
	workers  *pool.Pool

	mu     sync.RWMutex
	closed bool
}

// NewQueue 创建队列并启动投递协程
func NewQueue(opts QueueOptions, channels ...Channel) *Queue {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = defaultDeliverTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	q := &Queue{
		opts:     opts,
		channels: channels,
		ch:       make(chan Envelope, opts.Size),
		workers:  pool.New().WithMaxGoroutines(opts.Workers),
	}
	for i := 0; i < opts.Workers; i++ {
		q.workers.Go(q.work)
	}
	return q
}

// Notify 入队一条通知
func (q *Queue) Notify(_ context.Context, n sshmonitor.Notification, severity sshmonitor.Severity) error {
	if severity < q.opts.MinSeverity {
		return nil
	}

	env := Envelope{
		ID:           uuid.NewString(),
		Notification: n,
		Severity:     severity,
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- env:
		return nil
	default:
		q.opts.Recorder.QueueDropped()
		return ErrQueueFull
	}
}

// Close 停止接收新通知，并等待队列中已有的通知投递完成
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.workers.Wait()
}

func (q *Queue) work() {
	for env := range q.ch {
		if q.opts.Enricher != nil {
			q.opts.Enricher.Enrich(&env)
		}
		for _, c := range q.channels {
			q.deliver(c, env)
		}
	}
}

func (q *Queue) deliver(c Channel, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.DeliverTimeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = c.Deliver(ctx, env)
	}()

	q.opts.Recorder.Delivered(c.Name(), err)
	if err != nil {
		q.opts.Logger.Warn("通知投递失败",
			zap.String("channel", c.Name()),
			zap.String("id", env.ID),
			zap.String("kind", env.Notification.Kind()),
			zap.Error(err))
	}
}
