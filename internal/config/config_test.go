package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/auth.log", cfg.AuthLog)
	assert.Equal(t, 5, cfg.FailThreshold)
	assert.Equal(t, 60*time.Second, cfg.Window())
	assert.Equal(t, time.Second, cfg.Poll())
	assert.Equal(t, "@every 1m", cfg.SweepSchedule)
	assert.Equal(t, sshmonitor.SeverityInfo, cfg.MinSeverity())
	assert.False(t, cfg.Email.Enabled)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
}

func TestParse_Overrides(t *testing.T) {
	data := []byte(`
auth_log: /var/log/secure
fail_threshold: 3
time_window: 120
notify:
  min_severity: warning
email:
  enabled: true
  smtp_server: smtp.example.com
  smtp_port: 465
  ssl: true
  sender_email: monitor@example.com
  app_password: secret
  recipient_email: ops@example.com, sec@example.com
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "/var/log/secure", cfg.AuthLog)
	assert.Equal(t, 3, cfg.FailThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Window())
	assert.Equal(t, sshmonitor.SeverityWarning, cfg.MinSeverity())
	assert.Equal(t, Recipients{"ops@example.com", "sec@example.com"}, cfg.Email.Recipients)
	// 未设置的字段保持默认值
	assert.Equal(t, 30, cfg.Email.RatePerMinute)
}

func TestParse_RecipientList(t *testing.T) {
	cfg, err := Parse([]byte("email:\n  recipient_email:\n    - a@example.com\n    - b@example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, Recipients{"a@example.com", "b@example.com"}, cfg.Email.Recipients)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "zero threshold", data: "fail_threshold: 0\n"},
		{name: "negative window", data: "time_window: -1\n"},
		{name: "bad level", data: "log:\n  level: verbose\n"},
		{name: "bad severity", data: "notify:\n  min_severity: loud\n"},
		{name: "email enabled without server", data: "email:\n  enabled: true\n  sender_email: a@example.com\n  recipient_email: b@example.com\n"},
		{name: "bad recipient", data: "email:\n  recipient_email: not-an-address\n"},
		{name: "unknown key", data: "fail_treshold: 5\n"},
		{name: "bad metrics listen", data: "metrics_listen: nope\n"},
		{name: "malformed yaml", data: "auth_log: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestValidate_MessagesUseYAMLKeys(t *testing.T) {
	_, err := Parse([]byte("fail_threshold: 0\nnotify:\n  min_severity: loud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fail_threshold")
	assert.Contains(t, err.Error(), "min_severity必须是 INFO、WARNING 或 CRITICAL")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fail_threshold: 7\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.FailThreshold)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
