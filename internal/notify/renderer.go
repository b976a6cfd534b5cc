package notify

import (
	"embed"
	"fmt"
	"html"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/valyala/fasttemplate"
)

//go:embed templates/*.html
var templateFS embed.FS

const timeLayout = "2006-01-02 15:04:05 MST"

var subjects = map[string]string{
	sshmonitor.KindLoginSucceeded:      "SSH: Successful Login Detected",
	sshmonitor.KindLoginFailed:         "SSH: Failed Login from {{address}}",
	sshmonitor.KindBruteForceSuspected: "🚨 CRITICAL: Multiple SSH Failures from {{address}}",
}

// Message 渲染结果
type Message struct {
	Subject string
	HTML    string
}

// Renderer 按通知类型渲染邮件标题和正文
type Renderer struct {
	subjects map[string]*fasttemplate.Template
	bodies   map[string]*fasttemplate.Template
}

// NewRenderer 解析内置模板
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		subjects: make(map[string]*fasttemplate.Template, len(subjects)),
		bodies:   make(map[string]*fasttemplate.Template, len(subjects)),
	}
	for kind, subject := range subjects {
		st, err := fasttemplate.NewTemplate(subject, "{{", "}}")
		if err != nil {
			return nil, fmt.Errorf("解析标题模板 %s 失败: %w", kind, err)
		}
		data, err := templateFS.ReadFile("templates/" + kind + ".html")
		if err != nil {
			return nil, fmt.Errorf("读取邮件模板 %s 失败: %w", kind, err)
		}
		bt, err := fasttemplate.NewTemplate(string(data), "{{", "}}")
		if err != nil {
			return nil, fmt.Errorf("解析邮件模板 %s 失败: %w", kind, err)
		}
		r.subjects[kind] = st
		r.bodies[kind] = bt
	}
	return r, nil
}

// Kinds 支持的通知类型
func (r *Renderer) Kinds() []string {
	kinds := make([]string, 0, len(r.bodies))
	for kind := range r.bodies {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Render 渲染一条通知，正文中的值都做 HTML 转义
func (r *Renderer) Render(env Envelope) (Message, error) {
	kind := env.Notification.Kind()
	st, ok := r.subjects[kind]
	if !ok {
		return Message{}, fmt.Errorf("未知的通知类型: %s", kind)
	}
	values := templateValues(env)

	subject, err := st.ExecuteFuncStringWithErr(tagFunc(values, false))
	if err != nil {
		return Message{}, fmt.Errorf("渲染邮件标题失败: %w", err)
	}
	body, err := r.bodies[kind].ExecuteFuncStringWithErr(tagFunc(values, true))
	if err != nil {
		return Message{}, fmt.Errorf("渲染邮件正文失败: %w", err)
	}
	return Message{Subject: subject, HTML: body}, nil
}

func tagFunc(values map[string]string, escape bool) fasttemplate.TagFunc {
	return func(w io.Writer, tag string) (int, error) {
		v, ok := values[tag]
		if !ok {
			return 0, fmt.Errorf("未知的模板变量: %s", tag)
		}
		if escape {
			v = html.EscapeString(v)
		}
		return w.Write([]byte(v))
	}
}

func templateValues(env Envelope) map[string]string {
	values := map[string]string{
		"id":       env.ID,
		"host":     env.Host,
		"severity": env.Severity.String(),
		"address":  env.Notification.SourceAddress(),
		"time":     env.Notification.OccurredAt().Format(timeLayout),
		"location": "",
	}
	if env.Location != "" {
		values["location"] = "(" + env.Location + ")"
	}

	switch n := env.Notification.(type) {
	case sshmonitor.LoginSucceeded:
		values["user"] = n.User
		values["port"] = strconv.Itoa(n.Port)
		values["method"] = n.Method
	case sshmonitor.LoginFailed:
		values["user"] = n.User
		values["port"] = strconv.Itoa(n.Port)
		values["reason"] = n.Reason
		values["attempt"] = strconv.Itoa(n.AttemptCount)
	case sshmonitor.BruteForceSuspected:
		values["count"] = strconv.Itoa(n.Count)
		values["window"] = strconv.Itoa(n.WindowSeconds)
		values["last_user"] = n.LastUser
		values["last_reason"] = n.LastReason
	}
	return values
}

// SampleNotifications 每种类型一条示例通知，用于预览模板
func SampleNotifications(at time.Time) []sshmonitor.Notification {
	return []sshmonitor.Notification{
		sshmonitor.LoginSucceeded{User: "alice", Address: "203.0.113.7", Port: 51022, Method: "publickey", At: at},
		sshmonitor.LoginFailed{Reason: "Failed password", User: "root", Address: "198.51.100.23", Port: 40112, AttemptCount: 2, At: at},
		sshmonitor.BruteForceSuspected{Address: "198.51.100.23", Count: 5, WindowSeconds: 60, LastUser: "admin", LastReason: "Invalid user", At: at},
	}
}
