package sshmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTracker_OnEvent(t *testing.T) {
	tracker := NewSessionTracker()
	key := SessionKey{Address: "10.0.0.5", Port: 22}

	tracker.OnEvent(SuccessLogin{User: "alice", Address: "10.0.0.5", Port: 22, Method: "password"})
	tracker.OnEvent(SuccessLogin{User: "alice", Address: "10.0.0.5", Port: 22, Method: "password"})
	assert.True(t, tracker.IsOpen(key))
	assert.Equal(t, 1, tracker.Len())

	tracker.OnEvent(FailedLogin{Reason: "Failed password", User: "bob", Address: "10.0.0.9", Port: 5555})
	assert.Equal(t, 2, tracker.Len())

	tracker.OnEvent(SessionClosed{Address: "10.0.0.5", Port: 22})
	assert.False(t, tracker.IsOpen(key))
	assert.Equal(t, []SessionKey{{Address: "10.0.0.9", Port: 5555}}, tracker.Keys())
}

func TestSessionTracker_CloseUnknownIsNoop(t *testing.T) {
	tracker := NewSessionTracker()
	tracker.OnEvent(SuccessLogin{User: "alice", Address: "10.0.0.5", Port: 22})

	assert.NotPanics(t, func() {
		tracker.OnEvent(SessionClosed{Address: "10.0.0.77", Port: 1234})
		tracker.OnEvent(SessionClosed{Address: "10.0.0.77", Port: 1234})
	})
	assert.Equal(t, []SessionKey{{Address: "10.0.0.5", Port: 22}}, tracker.Keys())
}

func TestSessionTracker_KeysSorted(t *testing.T) {
	tracker := NewSessionTracker()
	tracker.OnEvent(SuccessLogin{Address: "10.0.0.9", Port: 2})
	tracker.OnEvent(SuccessLogin{Address: "10.0.0.1", Port: 9})
	tracker.OnEvent(SuccessLogin{Address: "10.0.0.1", Port: 3})

	assert.Equal(t, []SessionKey{
		{Address: "10.0.0.1", Port: 3},
		{Address: "10.0.0.1", Port: 9},
		{Address: "10.0.0.9", Port: 2},
	}, tracker.Keys())
	assert.Equal(t, "10.0.0.1:3", tracker.Keys()[0].String())
}
