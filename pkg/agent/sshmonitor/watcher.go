package sshmonitor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 文件变化唤醒源
type Watcher interface {
	// Start 开始监听，返回的通道在文件变化时收到信号，监听结束时关闭
	Start(ctx context.Context) (<-chan struct{}, error)
	Stop()
}

// FileWatcher 基于 fsnotify 监听认证日志
type FileWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileWatcher 创建文件监听器
func NewFileWatcher(path string, logger *zap.Logger) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("监听路径不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}

	return &FileWatcher{
		path:    filepath.Clean(path),
		watcher: watcher,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start 监听日志所在目录，这样轮转时新建的文件也能被感知
func (w *FileWatcher) Start(ctx context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil, fmt.Errorf("文件监听器已启动")
	}
	if w.stopped {
		return nil, fmt.Errorf("文件监听器已关闭")
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

// Stop 停止监听并释放 fsnotify 资源，可重复调用，停止后不能再次启动
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true

	// 未启动或启动失败时也要释放 inotify 句柄
	if !w.running {
		_ = w.watcher.Close()
		return
	}

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
	w.running = false
}

func (w *FileWatcher) processEvents(ctx context.Context, changeCh chan struct{}) {
	defer close(w.doneCh)
	defer close(changeCh)

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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			select {
			case changeCh <- struct{}{}:
			default:
				// 已有待处理信号
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("文件监听出错", zap.String("path", w.path), zap.Error(err))
		}
	}
}
