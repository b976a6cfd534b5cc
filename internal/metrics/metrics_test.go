package metrics

import (
	"errors"
	"testing"

	"github.com/narizgnaw/sshwatch/pkg/agent/sshmonitor"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var _ sshmonitor.Metrics = (*Collector)(nil)

func TestCollector_Counts(t *testing.T) {
	c := New()

	c.LinesRead(3)
	c.LinesRead(2)
	c.EventClassified(sshmonitor.RuleFailure)
	c.NotificationEmitted(sshmonitor.KindBruteForceSuspected, sshmonitor.SeverityCritical)
	c.ActiveSessions(4)
	c.Delivered("mail", nil)
	c.Delivered("mail", errors.New("boom"))
	c.QueueDropped()

	assert.Equal(t, 5.0, testutil.ToFloat64(c.linesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues(sshmonitor.RuleFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.notifications.WithLabelValues(sshmonitor.KindBruteForceSuspected, "CRITICAL")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("mail", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueDropped))
}
