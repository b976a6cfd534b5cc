package notify

import (
	"context"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogChannel 把通知写入日志
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, env Envelope) error {
	fields := []zap.Field{
		zap.String("id", env.ID),
		zap.String("kind", env.Notification.Kind()),
		zap.String("address", env.Notification.SourceAddress()),
	}
	if env.Location != "" {
		fields = append(fields, zap.String("location", env.Location))
	}

	var msg string
	switch n := env.Notification.(type) {
	case sshmonitor.LoginSucceeded:
		msg = "SSH登录成功"
		fields = append(fields, zap.String("user", n.User), zap.Int("port", n.Port), zap.String("method", n.Method))
	case sshmonitor.LoginFailed:
		msg = "SSH登录失败"
		fields = append(fields, zap.String("user", n.User), zap.Int("port", n.Port),
			zap.String("reason", n.Reason), zap.Int("attempt", n.AttemptCount))
	case sshmonitor.BruteForceSuspected:
		msg = "疑似SSH暴力破解"
		fields = append(fields, zap.Int("count", n.Count), zap.Int("windowSeconds", n.WindowSeconds),
			zap.String("lastUser", n.LastUser), zap.String("lastReason", n.LastReason))
	default:
		msg = "SSH事件"
	}

	if ce := c.logger.Check(levelFor(env.Severity), msg); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func levelFor(s sshmonitor.Severity) zapcore.Level {
	switch s {
	case sshmonitor.SeverityCritical:
		return zapcore.ErrorLevel
	case sshmonitor.SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
