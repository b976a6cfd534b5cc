package sshmonitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWatcher struct {
	mu      sync.Mutex
	ch      chan struct{}
	started bool
	stopped int
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{ch: make(chan struct{}, 1)}
}

func (w *fakeWatcher) Start(context.Context) (<-chan struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	return w.ch, nil
}

func (w *fakeWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped++
}

func (w *fakeWatcher) wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func waitNotification(t *testing.T, rec *recordingNotifier) sentNotification {
	t.Helper()
	select {
	case s := <-rec.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return sentNotification{}
	}
}

func TestMonitor_WakeProcessesNewLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	appendLog(t, fs, "Accepted password for history from 10.0.0.1 port 22\n")

	rec := newRecordingNotifier()
	watcher := newFakeWatcher()
	m := NewMonitor(Options{
		LogPath:      testLogPath,
		PollInterval: time.Hour,
		Fs:           fs,
		Watcher:      watcher,
		Notifier:     rec,
	})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	appendLog(t, fs, "noise line\nAccepted password for alice from 10.0.0.5 port 22\n")
	watcher.wake()

	got := waitNotification(t, rec)
	assert.Equal(t, KindLoginSucceeded, got.n.Kind())
	assert.Equal(t, "alice", got.n.(LoginSucceeded).User)

	require.NoError(t, m.Stop())
	assert.Len(t, rec.all(), 1)
}

func TestMonitor_PollFallback(t *testing.T) {
	fs := afero.NewMemMapFs()
	appendLog(t, fs, "")

	rec := newRecordingNotifier()
	m := NewMonitor(Options{
		LogPath:      testLogPath,
		PollInterval: 10 * time.Millisecond,
		Fs:           fs,
		Watcher:      newFakeWatcher(),
		Notifier:     rec,
	})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	appendLog(t, fs, "Failed password for bob from 10.0.0.9 port 5555\n")

	got := waitNotification(t, rec)
	assert.Equal(t, SeverityWarning, got.severity)
	assert.Equal(t, 1, got.n.(LoginFailed).AttemptCount)
}

func TestMonitor_SkipsMalformedLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	appendLog(t, fs, "")

	rec := newRecordingNotifier()
	watcher := newFakeWatcher()
	m := NewMonitor(Options{
		LogPath:      testLogPath,
		PollInterval: time.Hour,
		Fs:           fs,
		Watcher:      watcher,
		Notifier:     rec,
	})
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	appendLog(t, fs, "Failed password for bob from 10.0.0.9 port 0\nFailed password for carol from 10.0.0.9 port 6000\n")
	watcher.wake()

	got := waitNotification(t, rec)
	assert.Equal(t, "carol", got.n.(LoginFailed).User)
	assert.Equal(t, 1, got.n.(LoginFailed).AttemptCount)
}

func TestMonitor_StartErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	m := NewMonitor(Options{LogPath: testLogPath, Fs: fs, Watcher: newFakeWatcher()})
	err := m.Start(context.Background())
	require.Error(t, err)

	appendLog(t, fs, "")
	m = NewMonitor(Options{LogPath: testLogPath, Fs: fs, Watcher: newFakeWatcher(), SweepSchedule: "not a schedule"})
	require.Error(t, m.Start(context.Background()))

	m = NewMonitor(Options{LogPath: testLogPath, Fs: fs, Watcher: newFakeWatcher()})
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, errors.Is(m.Start(context.Background()), ErrAlreadyRunning))
	require.NoError(t, m.Stop())
}

func TestMonitor_StopIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	appendLog(t, fs, "")
	watcher := newFakeWatcher()

	m := NewMonitor(Options{LogPath: testLogPath, Fs: fs, Watcher: watcher})
	require.NoError(t, m.Stop())
	require.NoError(t, m.Start(context.Background()))

	done := m.Done()
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	select {
	case <-done:
	default:
		t.Fatal("worker still running after Stop")
	}
	// 调用方传入的监听器由调用方关闭
	assert.Equal(t, 0, watcher.stopped)
}

func TestMonitor_ContextCancelStopsWorker(t *testing.T) {
	fs := afero.NewMemMapFs()
	appendLog(t, fs, "")

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMonitor(Options{LogPath: testLogPath, Fs: fs, Watcher: newFakeWatcher()})
	require.NoError(t, m.Start(ctx))

	cancel()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit on cancel")
	}
	require.NoError(t, m.Stop())
}

func TestMonitor_Wait(t *testing.T) {
	m := NewMonitor(Options{LogPath: testLogPath, Fs: afero.NewMemMapFs(), Watcher: newFakeWatcher()})
	m.Wait()

	fs := afero.NewMemMapFs()
	appendLog(t, fs, "")
	m = NewMonitor(Options{LogPath: testLogPath, Fs: fs, Watcher: newFakeWatcher()})
	require.NoError(t, m.Start(context.Background()))

	waited := make(chan struct{})
	go func() {
		m.Wait()
		close(waited)
	}()
	require.NoError(t, m.Stop())

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}

func TestMonitor_ReleasesOwnWatcher(t *testing.T) {
	tests := []struct {
		name string
		dir  string
	}{
		{name: "watch started", dir: t.TempDir()},
		{name: "watch failed", dir: filepath.Join(t.TempDir(), "missing")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tt.dir, "auth.log")
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, path, nil, 0640))

			m := NewMonitor(Options{LogPath: path, Fs: fs})
			require.NoError(t, m.Start(context.Background()))
			require.NoError(t, m.Stop())

			assert.Nil(t, m.watcher)
			assert.False(t, m.ownWatcher)
		})
	}
}
