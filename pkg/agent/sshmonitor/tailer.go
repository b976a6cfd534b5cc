package sshmonitor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	DefaultMaxLineBytes = 64 * 1024
	// 单次读取上限，剩余部分留给下一次唤醒
	maxReadChunk = 4 * 1024 * 1024
	// 游标前保留的字节数，用于识别原地截断后又写回超过游标的情况
	fingerprintLen = 64
)

// TailState 读取状态
type TailState int

const (
	StateIdle TailState = iota
	StateReading
	StateRotated
)

func (s TailState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateRotated:
		return "rotated"
	default:
		return "unknown"
	}
}

// Tailer 增量读取认证日志，只返回完整的新行
type Tailer struct {
	fs              afero.Fs
	path            string
	createIfMissing bool
	maxLineBytes    int

	offset int64
	tail   []byte
	state  TailState
	last   os.FileInfo

	logger  *zap.Logger
	metrics Metrics
}

// TailerOption 读取器选项
type TailerOption func(*Tailer)

func WithCreateIfMissing(create bool) TailerOption {
	return func(t *Tailer) { t.createIfMissing = create }
}

func WithMaxLineBytes(n int) TailerOption {
	return func(t *Tailer) {
		if n > 0 {
			t.maxLineBytes = n
		}
	}
}

func WithTailerLogger(logger *zap.Logger) TailerOption {
	return func(t *Tailer) { t.logger = logger }
}

func WithTailerMetrics(metrics Metrics) TailerOption {
	return func(t *Tailer) { t.metrics = metrics }
}

// NewTailer 创建读取器，需调用 Open 定位到文件末尾
func NewTailer(fs afero.Fs, path string, opts ...TailerOption) *Tailer {
	t := &Tailer{
		fs:           fs,
		path:         path,
		maxLineBytes: DefaultMaxLineBytes,
		logger:       zap.NewNop(),
		metrics:      NopMetrics,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open 打开日志并把游标放在当前末尾，历史内容不会被处理
func (t *Tailer) Open() error {
	f, err := t.fs.Open(t.path)
	if err != nil && os.IsNotExist(err) && t.createIfMissing {
		f, err = t.fs.OpenFile(t.path, os.O_RDONLY|os.O_CREATE, 0640)
		if err == nil {
			t.logger.Info("认证日志不存在，已创建空文件", zap.String("path", t.path))
		}
	}
	if err != nil {
		return fmt.Errorf("打开认证日志失败: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("读取认证日志信息失败: %w", err)
	}

	t.offset = info.Size()
	t.last = info
	t.tail = nil
	if t.offset > 0 {
		n := min(t.offset, fingerprintLen)
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, t.offset-n); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("读取认证日志失败: %w", err)
		}
		t.tail = buf
	}
	t.state = StateIdle
	t.logger.Info("开始监听认证日志", zap.String("path", t.path), zap.Int64("offset", t.offset))
	return nil
}

// Offset 当前游标
func (t *Tailer) Offset() int64 {
	return t.offset
}

// State 当前状态
func (t *Tailer) State() TailState {
	return t.state
}

// Poll 读取游标之后新增的完整行；出错时游标不变，等待下次唤醒重试
func (t *Tailer) Poll() ([]string, error) {
	f, err := t.fs.Open(t.path)
	if err != nil {
		t.metrics.ReadFailed()
		return nil, fmt.Errorf("打开认证日志失败: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.metrics.ReadFailed()
		return nil, fmt.Errorf("读取认证日志信息失败: %w", err)
	}

	size := info.Size()
	if size < t.offset || replaced(t.last, info) || !t.sameTail(f) {
		t.state = StateRotated
		t.metrics.LogRotated()
		t.logger.Info("认证日志已轮转或被截断，从头读取",
			zap.Int64("size", size),
			zap.Int64("offset", t.offset))
		t.offset = 0
		t.tail = nil
	}
	t.last = info

	if size == t.offset {
		t.state = StateIdle
		return nil, nil
	}

	t.state = StateReading
	defer func() { t.state = StateIdle }()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		t.metrics.ReadFailed()
		return nil, fmt.Errorf("定位认证日志失败: %w", err)
	}

	n := size - t.offset
	if n > maxReadChunk {
		n = maxReadChunk
	}
	data, err := io.ReadAll(io.LimitReader(f, n))
	if err != nil {
		t.metrics.ReadFailed()
		return nil, fmt.Errorf("读取认证日志失败: %w", err)
	}

	lines, consumed := splitLines(data, t.maxLineBytes)
	t.offset += int64(consumed)
	t.remember(data[:consumed])
	t.metrics.LinesRead(len(lines))
	return lines, nil
}

// sameTail 游标前的字节是否仍与上次读取的一致；调用前需保证 size >= offset
func (t *Tailer) sameTail(f afero.File) bool {
	if len(t.tail) == 0 {
		return true
	}
	buf := make([]byte, len(t.tail))
	n, err := f.ReadAt(buf, t.offset-int64(len(t.tail)))
	if n < len(buf) || (err != nil && !errors.Is(err, io.EOF)) {
		// 读不到时不判定为轮转，交给后续读取报错
		return true
	}
	return bytes.Equal(buf, t.tail)
}

func (t *Tailer) remember(consumed []byte) {
	if len(consumed) == 0 {
		return
	}
	t.tail = append(t.tail, consumed[max(0, len(consumed)-fingerprintLen):]...)
	if extra := len(t.tail) - fingerprintLen; extra > 0 {
		t.tail = append([]byte(nil), t.tail[extra:]...)
	}
}

// splitLines 切分完整行；末尾没有换行的部分不计入 consumed，
// 除非其长度已经达到 maxLine
func splitLines(data []byte, maxLine int) ([]string, int) {
	var lines []string
	consumed := 0
	for {
		i := bytes.IndexByte(data[consumed:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(data[consumed:consumed+i], "\r")
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
		consumed += i + 1
	}

	if rest := data[consumed:]; maxLine > 0 && len(rest) >= maxLine {
		lines = append(lines, string(rest))
		consumed = len(data)
	}
	return lines, consumed
}

// replaced 判断日志是否被替换成了新文件（仅对真实文件系统有效）
func replaced(prev, cur os.FileInfo) bool {
	if prev == nil || cur == nil || prev.Sys() == nil || cur.Sys() == nil {
		return false
	}
	return !os.SameFile(prev, cur)
}
