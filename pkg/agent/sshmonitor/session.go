package sshmonitor

import (
	"sort"
)

// SessionTracker 当前打开的会话集合，仅由串行工作协程访问
type SessionTracker struct {
	open map[SessionKey]struct{}
}

// NewSessionTracker 创建会话跟踪器
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{open: make(map[SessionKey]struct{})}
}

// OnEvent 登录成功/失败时记录会话，断开时移除；均为幂等操作
func (t *SessionTracker) OnEvent(event Event) {
	switch e := event.(type) {
	case SuccessLogin, FailedLogin:
		t.open[e.Key()] = struct{}{}
	case SessionClosed:
		delete(t.open, e.Key())
	}
}

func (t *SessionTracker) IsOpen(key SessionKey) bool {
	_, ok := t.open[key]
	return ok
}

func (t *SessionTracker) Len() int {
	return len(t.open)
}

// Keys 返回排序后的会话列表，用于诊断输出
func (t *SessionTracker) Keys() []SessionKey {
	keys := make([]SessionKey, 0, len(t.open))
	for k := range t.open {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Address != keys[j].Address {
			return keys[i].Address < keys[j].Address
		}
		return keys[i].Port < keys[j].Port
	})
	return keys
}
