package sshmonitor

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Event 从认证日志中识别出的事件（不可变）
type Event interface {
	// Key 事件对应的会话键
	Key() SessionKey
	isEvent()
}

// SessionKey 会话标识（来源地址 + 端口）
type SessionKey struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (k SessionKey) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(k.Port))
}

// SuccessLogin 登录成功
type SuccessLogin struct {
	User    string `json:"user"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Method  string `json:"method"`
}

// FailedLogin 登录失败
type FailedLogin struct {
	Reason  string `json:"reason"`
	User    string `json:"user"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// SessionClosed 会话断开
type SessionClosed struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (e SuccessLogin) Key() SessionKey  { return SessionKey{Address: e.Address, Port: e.Port} }
func (e FailedLogin) Key() SessionKey   { return SessionKey{Address: e.Address, Port: e.Port} }
func (e SessionClosed) Key() SessionKey { return SessionKey{Address: e.Address, Port: e.Port} }

func (SuccessLogin) isEvent()  {}
func (FailedLogin) isEvent()   {}
func (SessionClosed) isEvent() {}

// Severity 通知级别
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity 解析通知级别，大小写不敏感
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return SeverityInfo, true
	case "WARNING", "WARN":
		return SeverityWarning, true
	case "CRITICAL":
		return SeverityCritical, true
	}
	return SeverityInfo, false
}

// Notification 交给 Notifier 的通知内容（不可变）
type Notification interface {
	// Kind 通知类型
	Kind() string
	// SourceAddress 触发通知的来源地址
	SourceAddress() string
	// OccurredAt 事件发生时间
	OccurredAt() time.Time
}

const (
	KindLoginSucceeded      = "login_succeeded"
	KindLoginFailed         = "login_failed"
	KindBruteForceSuspected = "brute_force_suspected"
)

// LoginSucceeded 登录成功通知
type LoginSucceeded struct {
	User    string    `json:"user"`
	Address string    `json:"address"`
	Port    int       `json:"port"`
	Method  string    `json:"method"`
	At      time.Time `json:"at"`
}

// LoginFailed 登录失败通知
type LoginFailed struct {
	Reason       string    `json:"reason"`
	User         string    `json:"user"`
	Address      string    `json:"address"`
	Port         int       `json:"port"`
	AttemptCount int       `json:"attemptCount"`
	At           time.Time `json:"at"`
}

// BruteForceSuspected 疑似暴力破解告警
type BruteForceSuspected struct {
	Address       string    `json:"address"`
	Count         int       `json:"count"`
	WindowSeconds int       `json:"windowSeconds"`
	LastUser      string    `json:"lastUser"`
	LastReason    string    `json:"lastReason"`
	At            time.Time `json:"at"`
}

func (LoginSucceeded) Kind() string      { return KindLoginSucceeded }
func (LoginFailed) Kind() string         { return KindLoginFailed }
func (BruteForceSuspected) Kind() string { return KindBruteForceSuspected }

func (n LoginSucceeded) SourceAddress() string      { return n.Address }
func (n LoginFailed) SourceAddress() string         { return n.Address }
func (n BruteForceSuspected) SourceAddress() string { return n.Address }

func (n LoginSucceeded) OccurredAt() time.Time      { return n.At }
func (n LoginFailed) OccurredAt() time.Time         { return n.At }
func (n BruteForceSuspected) OccurredAt() time.Time { return n.At }
