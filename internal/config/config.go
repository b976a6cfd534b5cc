package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhtrans "github.com/go-playground/validator/v10/translations/zh"
	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "/etc/sshwatch/config.yaml"

// ErrConfigChanged 配置文件发生变化，需要重建监控
var ErrConfigChanged = errors.New("config file changed")

// Config 程序配置，只在启动时读取
type Config struct {
	AuthLog         string `yaml:"auth_log" validate:"required"`
	FailThreshold   int    `yaml:"fail_threshold" validate:"min=1"`
	TimeWindow      int    `yaml:"time_window" validate:"min=1"`
	PollInterval    int    `yaml:"poll_interval" validate:"min=1"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
	MaxLineBytes    int    `yaml:"max_line_bytes" validate:"min=256"`
	SweepSchedule   string `yaml:"sweep_schedule" validate:"required"`
	GeoIPDB         string `yaml:"geoip_db"`
	MetricsListen   string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`

	Log    LogConfig    `yaml:"log"`
	Notify NotifyConfig `yaml:"notify"`
	Email  EmailConfig  `yaml:"email"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

// NotifyConfig 通知队列配置
type NotifyConfig struct {
	QueueSize   int    `yaml:"queue_size" validate:"min=1"`
	Workers     int    `yaml:"workers" validate:"min=1,max=64"`
	MinSeverity string `yaml:"min_severity" validate:"severity"`
}

// EmailConfig 邮件配置，键名沿用旧版配置文件
type EmailConfig struct {
	Enabled       bool       `yaml:"enabled"`
	SMTPServer    string     `yaml:"smtp_server" validate:"required_if=Enabled true"`
	SMTPPort      int        `yaml:"smtp_port" validate:"min=1,max=65535"`
	SenderEmail   string     `yaml:"sender_email" validate:"required_if=Enabled true,omitempty,email"`
	AppPassword   string     `yaml:"app_password"`
	Recipients    Recipients `yaml:"recipient_email" validate:"required_if=Enabled true,dive,email"`
	SSL           bool       `yaml:"ssl"`
	RatePerMinute int        `yaml:"rate_per_minute" validate:"min=1"`
	Retries       int        `yaml:"retries" validate:"min=0,max=10"`
}

// Recipients 收件人，兼容单个字符串与列表两种写法
type Recipients []string

func (r *Recipients) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*r = nil
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				*r = append(*r, part)
			}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*r = list
		return nil
	default:
		return fmt.Errorf("recipient_email: unsupported yaml node kind %d", node.Kind)
	}
}

// Default 默认配置
func Default() Config {
	return Config{
		AuthLog:       sshmonitor.DefaultAuthLog,
		FailThreshold: sshmonitor.DefaultFailThreshold,
		TimeWindow:    int(sshmonitor.DefaultTimeWindow / time.Second),
		PollInterval:  int(sshmonitor.DefaultPollInterval / time.Second),
		MaxLineBytes:  sshmonitor.DefaultMaxLineBytes,
		SweepSchedule: sshmonitor.DefaultSweepSchedule,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Notify: NotifyConfig{
			QueueSize:   256,
			Workers:     2,
			MinSeverity: "INFO",
		},
		Email: EmailConfig{
			SMTPPort:      587,
			RatePerMinute: 30,
			Retries:       3,
		},
	}
}

// Load 读取并校验配置文件
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 在默认值之上解析 YAML 并校验
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate, translator = newValidator()

// newValidator 校验错误使用 yaml 键名并翻译为中文
func newValidator() (*validator.Validate, ut.Translator) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
		_, ok := sshmonitor.ParseSeverity(fl.Field().String())
		return ok
	})

	locale := zh.New()
	trans, _ := ut.New(locale, locale).GetTranslator(locale.Locale())
	_ = zhtrans.RegisterDefaultTranslations(v, trans)
	_ = v.RegisterTranslation("severity", trans,
		func(t ut.Translator) error {
			return t.Add("severity", "{0}必须是 INFO、WARNING 或 CRITICAL", true)
		},
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T("severity", fe.Field())
			return msg
		})
	return v, trans
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Translate(translator))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// Window 失败统计窗口
func (c *Config) Window() time.Duration {
	return time.Duration(c.TimeWindow) * time.Second
}

// Poll 兜底轮询间隔
func (c *Config) Poll() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// MinSeverity 最低通知级别
func (c *Config) MinSeverity() sshmonitor.Severity {
	s, _ := sshmonitor.ParseSeverity(c.Notify.MinSeverity)
	return s
}
