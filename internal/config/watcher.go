package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化，变化后由调用方重建监控（不做热更新）
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher 创建配置监听器
func NewWatcher(path string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("配置文件路径不能为空")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建配置监听器失败: %w", err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		watcher:  w,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start 监听配置所在目录，兼容编辑器与配置管理工具的原子替换写法
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil, fmt.Errorf("配置监听器已启动")
	}
	if w.stopped {
		return nil, fmt.Errorf("配置监听器已关闭")
	}

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("监听目录 %s 失败: %w", dir, err)
	}

	changeCh := make(chan struct{}, 1)
	w.running = true
	go w.processEvents(ctx, changeCh)
	return changeCh, nil
}

// Stop 停止监听并释放 fsnotify 资源，可重复调用
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true

	if !w.running {
		_ = w.watcher.Close()
		return
	}
	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
	w.running = false
}

func (w *Watcher) processEvents(ctx context.Context, changeCh chan struct{}) {
	defer close(w.doneCh)
	defer close(changeCh)

	var timer *time.Timer
	var timerCh <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(event) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("配置监听出错", zap.Error(err))

		case <-timerCh:
			timerCh = nil
			w.logger.Info("配置文件已变更", zap.String("path", w.path))
			select {
			case changeCh <- struct{}{}:
			default:
			}
		}
	}
}

// isConfigEvent 直接写入或 ..data 软链替换都算配置变化
func (w *Watcher) isConfigEvent(event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)
	if name == w.path {
		return true
	}
	return filepath.Base(name) == "..data" && filepath.Dir(name) == filepath.Dir(w.path)
}
