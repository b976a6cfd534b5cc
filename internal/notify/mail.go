package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

// MailConfig 邮件通道参数
type MailConfig struct {
	SMTPServer    string
	SMTPPort      int
	SenderEmail   string
	AppPassword   string
	Recipients    []string
	SSL           bool
	RatePerMinute int
	Retries       int
}

// SendFunc 实际发送邮件，测试时可替换
type SendFunc func(m *gomail.Message) error

// MailChannel 通过 SMTP 发送 HTML 邮件
type MailChannel struct {
	cfg      MailConfig
	renderer *Renderer
	limiter  *rate.Limiter
	send     SendFunc
	backoff  backoff.Backoff
	logger   *zap.Logger
}

// MailOption 邮件通道选项
type MailOption func(*MailChannel)

func WithSendFunc(send SendFunc) MailOption {
	return func(c *MailChannel) { c.send = send }
}

func WithMailLogger(logger *zap.Logger) MailOption {
	return func(c *MailChannel) { c.logger = logger }
}

func WithRetryBackoff(first, limit time.Duration) MailOption {
	return func(c *MailChannel) {
		c.backoff.Min = first
		c.backoff.Max = limit
	}
}

// NewMailChannel 创建邮件通道
func NewMailChannel(cfg MailConfig, renderer *Renderer, opts ...MailOption) (*MailChannel, error) {
	if cfg.SMTPServer == "" || cfg.SenderEmail == "" {
		return nil, errors.New("邮件配置不完整: 需要 smtp_server 和 sender_email")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("邮件配置不完整: 至少需要一个收件人")
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	c := &MailChannel{
		cfg:      cfg,
		renderer: renderer,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute),
		backoff: backoff.Backoff{
			Min:    2 * time.Second,
			Max:    30 * time.Second,
			Factor: 2,
			Jitter: true,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.send == nil {
		dialer := gomail.NewDialer(cfg.SMTPServer, cfg.SMTPPort, cfg.SenderEmail, cfg.AppPassword)
		dialer.SSL = cfg.SSL
		c.send = func(m *gomail.Message) error { return dialer.DialAndSend(m) }
	}
	return c, nil
}

func (c *MailChannel) Name() string { return "email" }

// Deliver 渲染并发送，失败按退避策略重试
func (c *MailChannel) Deliver(ctx context.Context, env Envelope) error {
	msg, err := c.renderer.Render(env)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("邮件发送限流: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.cfg.SenderEmail)
	m.SetHeader("To", c.cfg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("X-SSHWatch-ID", env.ID)
	m.SetBody("text/html", msg.HTML)

	b := c.backoff
	for {
		err = c.send(m)
		if err == nil {
			c.logger.Debug("邮件已发送", zap.String("id", env.ID), zap.String("subject", msg.Subject))
			return nil
		}
		if int(b.Attempt()) >= c.cfg.Retries {
			return fmt.Errorf("发送邮件失败（已重试 %d 次）: %w", int(b.Attempt()), err)
		}

		wait := b.Duration()
		c.logger.Warn("发送邮件失败，稍后重试",
			zap.String("id", env.ID),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("发送邮件已取消: %w", errors.Join(ctx.Err(), err))
		case <-time.After(wait):
		}
	}
}
