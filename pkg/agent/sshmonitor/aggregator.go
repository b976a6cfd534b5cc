package sshmonitor

import (
	"time"
)

// FailureAggregator 按来源地址统计时间窗口内的失败次数
type FailureAggregator struct {
	window  time.Duration
	windows map[string][]time.Time
}

// NewFailureAggregator 创建失败聚合器
func NewFailureAggregator(window time.Duration) *FailureAggregator {
	return &FailureAggregator{
		window:  window,
		windows: make(map[string][]time.Time),
	}
}

// Window 时间窗口长度
func (a *FailureAggregator) Window() time.Duration {
	return a.window
}

// OnFailedLogin 记录一次失败并返回插入后窗口内的次数
func (a *FailureAggregator) OnFailedLogin(address string, now time.Time) int {
	attempts := a.prune(a.windows[address], now)
	attempts = append(attempts, now)
	a.windows[address] = attempts
	return len(attempts)
}

// OnSuccessOrClose 清空该地址的失败记录
func (a *FailureAggregator) OnSuccessOrClose(address string) {
	delete(a.windows, address)
}

// Count 返回窗口内的失败次数，同时裁剪过期记录
func (a *FailureAggregator) Count(address string, now time.Time) int {
	attempts, ok := a.windows[address]
	if !ok {
		return 0
	}
	attempts = a.prune(attempts, now)
	if len(attempts) == 0 {
		delete(a.windows, address)
		return 0
	}
	a.windows[address] = attempts
	return len(attempts)
}

// Sweep 移除记录已全部过期的地址，返回移除数量
func (a *FailureAggregator) Sweep(now time.Time) int {
	removed := 0
	for address, attempts := range a.windows {
		attempts = a.prune(attempts, now)
		if len(attempts) == 0 {
			delete(a.windows, address)
			removed++
			continue
		}
		a.windows[address] = attempts
	}
	return removed
}

// Len 当前跟踪的地址数量
func (a *FailureAggregator) Len() int {
	return len(a.windows)
}

// prune 原地保留 now-t <= window 的记录
func (a *FailureAggregator) prune(attempts []time.Time, now time.Time) []time.Time {
	j := 0
	for _, t := range attempts {
		if now.Sub(t) <= a.window {
			attempts[j] = t
			j++
		}
	}
	return attempts[:j]
}
