package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"
	"go.uber.org/zap"
)

const (
	ServiceName = "sshwatch"
	BinaryPath  = "/usr/local/bin/sshwatch"
)

// ErrNotRoot 安装、卸载服务需要 root 权限
var ErrNotRoot = fmt.Errorf("%w: 需要 root 权限", os.ErrPermission)

// RunFunc 服务主体，ctx 取消时应尽快返回
type RunFunc func(ctx context.Context) error

// Manager 系统服务管理器
type Manager struct {
	svc        service.Service
	prg        *program
	binaryPath string
	logger     *zap.Logger
	geteuid    func() int
}

// New 创建服务管理器；configPath 会写入服务的启动参数
func New(configPath string, run RunFunc, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	prg := &program{run: run, logger: logger, exit: os.Exit}
	svc, err := service.New(prg, &service.Config{
		Name:        ServiceName,
		DisplayName: "SSH Login Watch",
		Description: "Watches the sshd auth log and alerts on logins and brute-force attempts.",
		Executable:  BinaryPath,
		Arguments:   []string{"service", "run", "--config", absConfig},
		Option: service.KeyValue{
			"Restart":   "on-failure",
			"LogOutput": true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建系统服务失败: %w", err)
	}

	return &Manager{
		svc:        svc,
		prg:        prg,
		binaryPath: BinaryPath,
		logger:     logger,
		geteuid:    os.Geteuid,
	}, nil
}

// Install 安装服务，已安装时直接返回
func (m *Manager) Install() error {
	if m.geteuid() != 0 {
		return ErrNotRoot
	}

	if m.isInstalled() {
		m.logger.Info("服务已安装，跳过")
		return nil
	}

	if err := m.ensureBinary(); err != nil {
		return fmt.Errorf("安装可执行文件失败: %w", err)
	}

	if err := m.svc.Install(); err != nil {
		// 回滚软链
		m.removeBinary()
		return fmt.Errorf("安装系统服务失败: %w", err)
	}
	if err := m.svc.Start(); err != nil {
		m.logger.Warn("服务已安装但启动失败，请手动启动", zap.Error(err))
	}

	m.logger.Info("服务安装成功", zap.String("name", ServiceName))
	return nil
}

// Uninstall 停止并卸载服务，未安装时直接返回
func (m *Manager) Uninstall() error {
	if m.geteuid() != 0 {
		return ErrNotRoot
	}

	if !m.isInstalled() {
		m.logger.Info("服务未安装，跳过")
		m.removeBinary()
		return nil
	}

	if err := m.svc.Stop(); err != nil {
		m.logger.Warn("停止服务失败", zap.Error(err))
	}
	if err := m.svc.Uninstall(); err != nil {
		return fmt.Errorf("卸载系统服务失败: %w", err)
	}
	m.removeBinary()

	m.logger.Info("服务卸载成功", zap.String("name", ServiceName))
	return nil
}

// Status 服务状态描述
func (m *Manager) Status() (string, error) {
	status, err := m.svc.Status()
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed", nil
	}
	if err != nil {
		return "", fmt.Errorf("查询服务状态失败: %w", err)
	}
	return statusString(status), nil
}

// Run 以服务方式运行，阻塞直到服务管理器要求停止
func (m *Manager) Run() error {
	return m.svc.Run()
}

func (m *Manager) isInstalled() bool {
	_, err := m.svc.Status()
	return !errors.Is(err, service.ErrNotInstalled)
}

func statusString(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ensureBinary 把当前可执行文件链接到固定路径
func (m *Manager) ensureBinary() error {
	execPath, err := os.Executable()
	if err != nil {
		return err
	}
	return linkBinary(execPath, m.binaryPath)
}

func (m *Manager) removeBinary() {
	info, err := os.Lstat(m.binaryPath)
	if err != nil {
		return
	}
	if info.Mode()&os.ModeSymlink != 0 {
		_ = os.Remove(m.binaryPath)
	}
}

func linkBinary(execPath, target string) error {
	if execPath == target {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	if info, err := os.Lstat(target); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(target); err == nil && dest == execPath {
				return nil
			}
		}
	}

	_ = os.Remove(target)

	if err := os.Symlink(execPath, target); err == nil {
		return nil
	}

	return copyFile(execPath, target, 0755)
}

// copyFile 无法建立软链时的退路；写入不完整的文件会被删除
func copyFile(src, dst string, perm os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("复制可执行文件失败: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("写入可执行文件失败: %w", err)
	}
	return os.Chmod(dst, perm)
}

// program 适配 service.Interface
type program struct {
	run    RunFunc
	logger *zap.Logger
	exit   func(code int)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *program) Start(service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil

	go func() {
		err := p.run(ctx)

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)

		// 非主动停止的退出交给服务管理器重启
		if err != nil && ctx.Err() == nil {
			p.logger.Error("服务异常退出", zap.Error(err))
			p.exit(1)
		}
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(p.err, context.Canceled) {
		return nil
	}
	return p.err
}
