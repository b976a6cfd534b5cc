package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	name    string
	mu      sync.Mutex
	got     []Envelope
	err     error
	panics  bool
	block   chan struct{}
	started chan struct{}
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(_ context.Context, env Envelope) error {
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	c.got = append(c.got, env)
	c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) envelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.got...)
}

type countingRecorder struct {
	mu        sync.Mutex
	dropped   int
	delivered map[string]int
	failed    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{delivered: map[string]int{}, failed: map[string]int{}}
}

func (r *countingRecorder) QueueDropped() {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

func (r *countingRecorder) Delivered(channel string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed[channel]++
		return
	}
	r.delivered[channel]++
}

type staticLocator string

func (l staticLocator) Locate(string) string { return string(l) }

func sample() sshmonitor.Notification {
	return sshmonitor.LoginFailed{Reason: "Failed password", User: "root", Address: "203.0.113.9", Port: 2222, AttemptCount: 1}
}

func TestQueue_DeliversToAllChannels(t *testing.T) {
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	rec := newCountingRecorder()
	q := NewQueue(QueueOptions{
		Size:     8,
		Workers:  2,
		Enricher: NewEnricher("web-1", staticLocator("Tokyo, Japan")),
		Recorder: rec,
	}, a, b)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Notify(context.Background(), sample(), sshmonitor.SeverityWarning))
	}
	q.Close()

	require.Len(t, a.envelopes(), 3)
	require.Len(t, b.envelopes(), 3)
	env := a.envelopes()[0]
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "web-1", env.Host)
	assert.Equal(t, "Tokyo, Japan", env.Location)
	assert.Equal(t, sshmonitor.SeverityWarning, env.Severity)
	assert.Equal(t, 3, rec.delivered["a"])
	assert.Equal(t, 3, rec.delivered["b"])
}

func TestQueue_MinSeverity(t *testing.T) {
	c := &fakeChannel{name: "c"}
	q := NewQueue(QueueOptions{MinSeverity: sshmonitor.SeverityCritical}, c)

	require.NoError(t, q.Notify(context.Background(), sample(), sshmonitor.SeverityWarning))
	require.NoError(t, q.Notify(context.Background(), sshmonitor.BruteForceSuspected{Address: "203.0.113.9", Count: 5}, sshmonitor.SeverityCritical))
	q.Close()

	got := c.envelopes()
	require.Len(t, got, 1)
	assert.Equal(t, sshmonitor.KindBruteForceSuspected, got[0].Notification.Kind())
}

func TestQueue_FullDropsWithoutBlocking(t *testing.T) {
	c := &fakeChannel{name: "slow", block: make(chan struct{}), started: make(chan struct{}, 1)}
	rec := newCountingRecorder()
	q := NewQueue(QueueOptions{Size: 1, Workers: 1, Recorder: rec}, c)

	// 第一条被工作协程取走并阻塞，第二条占满队列
	require.NoError(t, q.Notify(context.Background(), sample(), sshmonitor.SeverityInfo))
	<-c.started
	require.NoError(t, q.Notify(context.Background(), sample(), sshmonitor.SeverityInfo))

	done := make(chan error, 1)
	go func() { done <- q.Notify(context.Background(), sample(), sshmonitor.SeverityInfo) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.Equal(t, 1, rec.dropped)

	close(c.block)
	q.Close()
	assert.Len(t, c.envelopes(), 2)
}

func TestQueue_ChannelFailureIsolated(t *testing.T) {
	bad := &fakeChannel{name: "bad", err: errors.New("smtp down")}
	crash := &fakeChannel{name: "crash", panics: true}
	good := &fakeChannel{name: "good"}
	rec := newCountingRecorder()
	q := NewQueue(QueueOptions{Recorder: rec}, bad, crash, good)

	require.NoError(t, q.Notify(context.Background(), sample(), sshmonitor.SeverityWarning))
	q.Close()

	assert.Len(t, good.envelopes(), 1)
	assert.Equal(t, 1, rec.failed["bad"])
	assert.Equal(t, 1, rec.failed["crash"])
	assert.Equal(t, 1, rec.delivered["good"])
}

func TestQueue_NotifyAfterClose(t *testing.T) {
	q := NewQueue(QueueOptions{})
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Notify(context.Background(), sample(), sshmonitor.SeverityInfo), ErrQueueClosed)
}
