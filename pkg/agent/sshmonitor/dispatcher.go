package sshmonitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Notifier 通知出口，实现方需尽快返回，不得阻塞串行读取路径
type Notifier interface {
	Notify(ctx context.Context, n Notification, severity Severity) error
}

// NotifierFunc 函数适配器
type NotifierFunc func(ctx context.Context, n Notification, severity Severity) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification, severity Severity) error {
	return f(ctx, n, severity)
}

// Metrics 监控指标埋点
type Metrics interface {
	LinesRead(n int)
	EventClassified(kind string)
	ParseFailed(rule string)
	NotificationEmitted(kind string, severity Severity)
	NotificationFailed(kind string)
	LogRotated()
	ReadFailed()
	ActiveSessions(n int)
	TrackedAddresses(n int)
}

type nopMetrics struct{}

func (nopMetrics) LinesRead(int)                        {}
func (nopMetrics) EventClassified(string)               {}
func (nopMetrics) ParseFailed(string)                   {}
func (nopMetrics) NotificationEmitted(string, Severity) {}
func (nopMetrics) NotificationFailed(string)            {}
func (nopMetrics) LogRotated()                          {}
func (nopMetrics) ReadFailed()                          {}
func (nopMetrics) ActiveSessions(int)                   {}
func (nopMetrics) TrackedAddresses(int)                 {}

// NopMetrics 不记录任何指标
var NopMetrics Metrics = nopMetrics{}

// DispatcherConfig 分发器参数
type DispatcherConfig struct {
	Threshold int
	Now       func() time.Time
	Logger    *zap.Logger
	Metrics   Metrics
}

// Dispatcher 将事件路由到会话跟踪器、失败聚合器，并发出通知
type Dispatcher struct {
	sessions  *SessionTracker
	failures  *FailureAggregator
	notifier  Notifier
	threshold int
	now       func() time.Time
	logger    *zap.Logger
	metrics   Metrics
}

// NewDispatcher 创建分发器
func NewDispatcher(sessions *SessionTracker, failures *FailureAggregator, notifier Notifier, cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		sessions:  sessions,
		failures:  failures,
		notifier:  notifier,
		threshold: cfg.Threshold,
		now:       cfg.Now,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.metrics == nil {
		d.metrics = NopMetrics
	}
	return d
}

// Dispatch 处理一个事件
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	switch e := event.(type) {
	case SessionClosed:
		d.metrics.EventClassified(RuleSessionClose)
		d.sessions.OnEvent(e)
		d.failures.OnSuccessOrClose(e.Address)

	case SuccessLogin:
		d.metrics.EventClassified(RuleSuccess)
		d.sessions.OnEvent(e)
		d.failures.OnSuccessOrClose(e.Address)
		d.emit(ctx, LoginSucceeded{
			User:    e.User,
			Address: e.Address,
			Port:    e.Port,
			Method:  e.Method,
			At:      d.now(),
		}, SeverityInfo)

	case FailedLogin:
		d.metrics.EventClassified(RuleFailure)
		d.sessions.OnEvent(e)
		now := d.now()
		count := d.failures.OnFailedLogin(e.Address, now)
		d.emit(ctx, LoginFailed{
			Reason:       e.Reason,
			User:         e.User,
			Address:      e.Address,
			Port:         e.Port,
			AttemptCount: count,
			At:           now,
		}, SeverityWarning)

		// 只在恰好达到阈值时告警一次
		if count == d.threshold {
			d.logger.Warn("检测到疑似暴力破解",
				zap.String("address", e.Address),
				zap.Int("count", count),
				zap.Duration("window", d.failures.Window()))
			d.emit(ctx, BruteForceSuspected{
				Address:       e.Address,
				Count:         count,
				WindowSeconds: int(d.failures.Window() / time.Second),
				LastUser:      e.User,
				LastReason:    e.Reason,
				At:            now,
			}, SeverityCritical)
		}
	}

	d.metrics.ActiveSessions(d.sessions.Len())
	d.metrics.TrackedAddresses(d.failures.Len())
}

// emit 通知失败只记录日志，不影响后续处理
func (d *Dispatcher) emit(ctx context.Context, n Notification, severity Severity) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.NotificationFailed(n.Kind())
			d.logger.Error("发送通知时发生 panic",
				zap.String("kind", n.Kind()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	d.metrics.NotificationEmitted(n.Kind(), severity)
	if err := d.notifier.Notify(ctx, n, severity); err != nil {
		d.metrics.NotificationFailed(n.Kind())
		d.logger.Warn("发送通知失败",
			zap.String("kind", n.Kind()),
			zap.Stringer("severity", severity),
			zap.Error(err))
	}
}
