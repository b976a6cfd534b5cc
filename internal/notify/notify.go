package notify

import (
	"context"
	"errors"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
)

var (
	// ErrQueueFull 通知队列已满，本条通知被丢弃
	ErrQueueFull = errors.New("notification queue full")
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("notification queue closed")
)

// Envelope 投递单元：通知本身加上补充信息
type Envelope struct {
	ID           string
	Notification sshmonitor.Notification
	Severity     sshmonitor.Severity
	Host         string
	Location     string
}

// Channel 具体的投递方式（日志、邮件等）
type Channel interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
}

// Recorder 投递相关指标
type Recorder interface {
	QueueDropped()
	Delivered(channel string, err error)
}

type nopRecorder struct{}

func (nopRecorder) QueueDropped()           {}
func (nopRecorder) Delivered(string, error) {}
