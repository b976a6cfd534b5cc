package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/narizgnaw/sshwatch/internal/config"
	"github.com/narizgnaw/sshwatch/internal/logger"
	"github.com/narizgnaw/sshwatch/internal/metrics"
	"github.com/narizgnaw/sshwatch/internal/notify"
	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const configDebounce = 500 * time.Millisecond

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "在前台运行监控",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func logOptions(c config.LogConfig) logger.Options {
	return logger.Options{
		Level:      c.Level,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// serve 加载配置并运行，直到 ctx 结束。
// 配置文件变化时整体重建监控核心；日志与指标服务沿用启动时的设置。
func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logOptions(cfg.Log))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	collector := metrics.New()
	if cfg.MetricsListen != "" {
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsListen, log.Named("metrics")); err != nil {
				log.Error("指标服务异常退出", zap.Error(err))
			}
		}()
	}

	s := &supervisor{
		configPath: configPath,
		logger:     log,
		collector:  collector,
		fs:         afero.NewOsFs(),
	}

	watcher, err := config.NewWatcher(configPath, configDebounce, log.Named("config"))
	if err != nil {
		log.Warn("无法监听配置文件，配置变更需重启生效", zap.Error(err))
	} else {
		defer watcher.Stop()
		changes, err := watcher.Start(ctx)
		if err != nil {
			log.Warn("无法监听配置文件，配置变更需重启生效", zap.Error(err))
		} else {
			s.changes = changes
		}
	}

	return s.run(ctx, cfg)
}

// supervisor 管理监控核心的生命周期
type supervisor struct {
	configPath string
	logger     *zap.Logger
	collector  *metrics.Collector
	fs         afero.Fs
	changes    <-chan struct{}
}

func (s *supervisor) run(ctx context.Context, cfg *config.Config) error {
	var previous *config.Config
	for {
		c, err := s.start(ctx, cfg)
		if err != nil {
			if previous == nil {
				return err
			}
			s.logger.Error("新配置启动失败，回退到之前的配置", zap.Error(err))
			cfg, previous = previous, nil
			continue
		}

		next, err := s.waitForChange(ctx)
		c.close()
		if !errors.Is(err, config.ErrConfigChanged) {
			return nil
		}

		s.logger.Info("配置已变更，重建监控")
		previous, cfg = cfg, next
	}
}

// waitForChange 阻塞到 ctx 结束或出现一份有效的新配置
func (s *supervisor) waitForChange(ctx context.Context) (*config.Config, error) {
	changes := s.changes
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			next, err := config.Load(s.configPath)
			if err != nil {
				s.logger.Error("新配置无效，继续使用当前配置", zap.Error(err))
				continue
			}
			return next, config.ErrConfigChanged
		}
	}
}

// core 由一份配置构建出的监控实例
type core struct {
	monitor *sshmonitor.Monitor
	queue   *notify.Queue
	geo     *notify.GeoLocator
}

func (s *supervisor) start(ctx context.Context, cfg *config.Config) (*core, error) {
	c, err := s.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.monitor.Start(ctx); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func (s *supervisor) build(ctx context.Context, cfg *config.Config) (*core, error) {
	c := &core{}

	channels := []notify.Channel{notify.NewLogChannel(s.logger.Named("alert"))}
	if cfg.Email.Enabled {
		renderer, err := notify.NewRenderer()
		if err != nil {
			return nil, err
		}
		mail, err := notify.NewMailChannel(notify.MailConfig{
			SMTPServer:    cfg.Email.SMTPServer,
			SMTPPort:      cfg.Email.SMTPPort,
			SenderEmail:   cfg.Email.SenderEmail,
			AppPassword:   cfg.Email.AppPassword,
			Recipients:    cfg.Email.Recipients,
			SSL:           cfg.Email.SSL,
			RatePerMinute: cfg.Email.RatePerMinute,
			Retries:       cfg.Email.Retries,
		}, renderer, notify.WithMailLogger(s.logger.Named("mail")))
		if err != nil {
			return nil, err
		}
		channels = append(channels, mail)
	}

	var locator notify.Locator
	if cfg.GeoIPDB != "" {
		geo, err := notify.OpenGeoLocator(cfg.GeoIPDB)
		if err != nil {
			s.logger.Warn("GeoIP 数据库不可用，通知中不包含地理位置", zap.Error(err))
		} else {
			c.geo = geo
			locator = geo
		}
	}

	c.queue = notify.NewQueue(notify.QueueOptions{
		Size:        cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		MinSeverity: cfg.MinSeverity(),
		Enricher:    notify.NewEnricher(notify.HostLabel(ctx), locator),
		Logger:      s.logger.Named("notify"),
		Recorder:    s.collector,
	}, channels...)

	c.monitor = sshmonitor.NewMonitor(sshmonitor.Options{
		LogPath:         cfg.AuthLog,
		Threshold:       cfg.FailThreshold,
		Window:          cfg.Window(),
		PollInterval:    cfg.Poll(),
		SweepSchedule:   cfg.SweepSchedule,
		CreateIfMissing: cfg.CreateIfMissing,
		MaxLineBytes:    cfg.MaxLineBytes,
		Fs:              s.fs,
		Notifier:        c.queue,
		Logger:          s.logger.Named("monitor"),
		Metrics:         s.collector,
	})
	return c, nil
}

// close 先停监控再排空通知队列
func (c *core) close() {
	if c.monitor != nil {
		_ = c.monitor.Stop()
	}
	if c.queue != nil {
		c.queue.Close()
	}
	if c.geo != nil {
		_ = c.geo.Close()
	}
}
