package sshmonitor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidPort 端口不是 1-65535 范围内的整数
var ErrInvalidPort = errors.New("invalid port")

// ParseError 某一行命中了规则但提取的字段无法解析
type ParseError struct {
	Rule  string
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s line: field %s=%q: %v", e.Rule, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

const (
	RuleSessionClose = "session_close"
	RuleSuccess      = "success"
	RuleFailure      = "failure"
)

type rule struct {
	name    string
	pattern *regexp.Regexp
	build   func(m []string) (Event, error)
}

// Classifier 认证日志行分类器，按规则顺序匹配，先命中者生效
type Classifier struct {
	rules []rule
}

// NewClassifier 创建分类器
func NewClassifier() *Classifier {
	return &Classifier{
		rules: []rule{
			{
				name:    RuleSessionClose,
				pattern: regexp.MustCompile(`(Disconnected from|Connection closed by).*?([\d.]+) port (\d+)`),
				build: func(m []string) (Event, error) {
					port, err := parsePort(RuleSessionClose, m[3])
					if err != nil {
						return nil, err
					}
					return SessionClosed{Address: m[2], Port: port}, nil
				},
			},
			{
				name:    RuleSuccess,
				pattern: regexp.MustCompile(`Accepted (password|publickey|keyboard-interactive) for (\S+) from ([\d.]+) port (\d+)`),
				build: func(m []string) (Event, error) {
					port, err := parsePort(RuleSuccess, m[4])
					if err != nil {
						return nil, err
					}
					return SuccessLogin{Method: m[1], User: m[2], Address: m[3], Port: port}, nil
				},
			},
			{
				// sshd 也会输出 "Invalid user bob from" 与 "Failed password for invalid user bob from"
				name:    RuleFailure,
				pattern: regexp.MustCompile(`(Failed password|Invalid user) (?:for )?(?:invalid user )?(\S+) from ([\d.]+) port (\d+)`),
				build: func(m []string) (Event, error) {
					port, err := parsePort(RuleFailure, m[4])
					if err != nil {
						return nil, err
					}
					return FailedLogin{Reason: m[1], User: m[2], Address: m[3], Port: port}, nil
				},
			},
		},
	}
}

// Rules 按匹配优先级返回规则名
func (c *Classifier) Rules() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.name)
	}
	return names
}

// Classify 识别一行日志；未命中任何规则时返回 (nil, nil)
func (c *Classifier) Classify(line string) (Event, error) {
	for _, r := range c.rules {
		m := r.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return r.build(m)
	}
	return nil, nil
}

func parsePort(ruleName, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ParseError{Rule: ruleName, Field: "port", Value: value, Err: err}
	}
	if port < 1 || port > 65535 {
		return 0, &ParseError{Rule: ruleName, Field: "port", Value: value, Err: ErrInvalidPort}
	}
	return port, nil
}
