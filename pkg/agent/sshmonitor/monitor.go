package sshmonitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	DefaultAuthLog       = "/var/log/auth.log"
	DefaultFailThreshold = 5
	DefaultTimeWindow    = 60 * time.Second
	DefaultPollInterval  = time.Second
	DefaultSweepSchedule = "@every 1m"
)

// ErrAlreadyRunning 重复启动
var ErrAlreadyRunning = errors.New("monitor already running")

// Options 监控器参数
type Options struct {
	LogPath         string
	Threshold       int
	Window          time.Duration
	PollInterval    time.Duration
	SweepSchedule   string
	CreateIfMissing bool
	MaxLineBytes    int

	Fs       afero.Fs
	Watcher  Watcher
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  Metrics
	Now      func() time.Time
}

// Monitor SSH登录监控器：所有唤醒源汇入同一个串行工作协程
type Monitor struct {
	mu      sync.Mutex
	running bool
	opts    Options

	tailer     *Tailer
	classifier *Classifier
	sessions   *SessionTracker
	failures   *FailureAggregator
	dispatcher *Dispatcher

	watcher    Watcher
	ownWatcher bool
	cron       *cron.Cron
	sweepCh    chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *zap.Logger
}

// NewMonitor 创建监控器
func NewMonitor(opts Options) *Monitor {
	if opts.LogPath == "" {
		opts.LogPath = DefaultAuthLog
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultFailThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultTimeWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SweepSchedule == "" {
		opts.SweepSchedule = DefaultSweepSchedule
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(context.Context, Notification, Severity) error { return nil })
	}

	sessions := NewSessionTracker()
	failures := NewFailureAggregator(opts.Window)

	return &Monitor{
		opts: opts,
		tailer: NewTailer(opts.Fs, opts.LogPath,
			WithCreateIfMissing(opts.CreateIfMissing),
			WithMaxLineBytes(opts.MaxLineBytes),
			WithTailerLogger(opts.Logger.Named("tailer")),
			WithTailerMetrics(opts.Metrics),
		),
		classifier: NewClassifier(),
		sessions:   sessions,
		failures:   failures,
		dispatcher: NewDispatcher(sessions, failures, opts.Notifier, DispatcherConfig{
			Threshold: opts.Threshold,
			Now:       opts.Now,
			Logger:    opts.Logger.Named("dispatcher"),
			Metrics:   opts.Metrics,
		}),
		sweepCh: make(chan struct{}, 1),
		logger:  opts.Logger,
	}
}

// Start 启动监控；日志无法打开时返回错误，不会在没有监控的情况下静默运行
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	if err := m.tailer.Open(); err != nil {
		return err
	}

	m.watcher, m.ownWatcher = m.opts.Watcher, false
	if m.watcher == nil {
		w, err := NewFileWatcher(m.opts.LogPath, m.logger.Named("watcher"))
		if err != nil {
			m.logger.Warn("创建文件监听器失败，仅使用轮询", zap.Error(err))
		} else {
			m.watcher, m.ownWatcher = w, true
		}
	}

	var wakeCh <-chan struct{}
	if m.watcher != nil {
		ch, err := m.watcher.Start(ctx)
		if err != nil {
			m.logger.Warn("启动文件监听失败，仅使用轮询", zap.Error(err))
			m.stopWatcher()
		} else {
			wakeCh = ch
		}
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.opts.SweepSchedule, m.requestSweep); err != nil {
		m.stopWatcher()
		return fmt.Errorf("无效的清理周期 %q: %w", m.opts.SweepSchedule, err)
	}
	m.cron.Start()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(runCtx, wakeCh)

	m.logger.Info("SSH登录监控已启动",
		zap.String("path", m.opts.LogPath),
		zap.Int("threshold", m.opts.Threshold),
		zap.Duration("window", m.opts.Window),
		zap.Duration("poll", m.opts.PollInterval))
	return nil
}

// Stop 停止监控并等待正在进行的读取完成，可重复调用；
// 通过 Options.Watcher 传入的监听器不会被关闭
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.cancel()
	m.stopWatcher()
	<-m.cron.Stop().Done()
	<-m.done

	m.running = false
	m.logger.Info("SSH登录监控已停止")
	return nil
}

// Done 工作协程退出后关闭；未启动时返回 nil
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// stopWatcher 只关闭自己创建的监听器，调用方传入的由调用方负责
func (m *Monitor) stopWatcher() {
	if m.watcher == nil || !m.ownWatcher {
		return
	}
	m.watcher.Stop()
	m.watcher, m.ownWatcher = nil, false
}

func (m *Monitor) requestSweep() {
	select {
	case m.sweepCh <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context, wakeCh <-chan struct{}) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	// 正在处理的读取周期不受取消影响
	cycleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-wakeCh:
			if !ok {
				m.logger.Warn("文件监听已结束，继续使用轮询")
				wakeCh = nil
				continue
			}
			m.cycle(cycleCtx)
		case <-ticker.C:
			m.cycle(cycleCtx)
		case <-m.sweepCh:
			m.sweep()
		}
	}
}

// cycle 读取新增行并逐行分类、分发
func (m *Monitor) cycle(ctx context.Context) {
	lines, err := m.tailer.Poll()
	if err != nil {
		m.logger.Warn("读取认证日志失败，等待下次重试", zap.Error(err))
		return
	}

	for _, line := range lines {
		event, err := m.classifier.Classify(line)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				m.opts.Metrics.ParseFailed(pe.Rule)
			}
			m.logger.Warn("解析日志行失败，已跳过", zap.String("line", line), zap.Error(err))
			continue
		}
		if event == nil {
			continue
		}
		m.dispatcher.Dispatch(ctx, event)
	}
}

func (m *Monitor) sweep() {
	now := time.Now()
	if m.opts.Now != nil {
		now = m.opts.Now()
	}
	if removed := m.failures.Sweep(now); removed > 0 {
		m.logger.Debug("已清理过期的失败记录",
			zap.Int("removed", removed),
			zap.Int("tracked", m.failures.Len()),
			zap.Int("sessions", m.sessions.Len()))
	}
	m.opts.Metrics.TrackedAddresses(m.failures.Len())
}

// Wait 阻塞直到工作协程退出；未启动时立即返回
func (m *Monitor) Wait() {
	if done := m.Done(); done != nil {
		<-done
	}
}
