package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/queue"
)

// TestPipeline_ReadingToNotification runs evaluation and dispatch through a
// real worker pool.
func TestPipeline_ReadingToNotification(t *testing.T) {
	e := newEnv(t)
	rule := e.hotRule(t, nil)
	e.channel(t, entities.ChannelWebhook, entities.SeverityMedium, nil)

	q := queue.NewMemoryQueue(queue.MemoryConfig{Workers: 2, BufferSize: 16}, testLogger(), nil)
	ch := &fakeChannels{}
	ev := NewEvaluator(e.readings, e.rules, e.records, q, EvaluatorConfig{}, testLogger(), nil)
	d := NewDispatcher(e.rules, e.records, e.notifications, ch, DispatcherConfig{}, testLogger(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, NewTaskHandler(ev, d)) }()

	require.NoError(t, q.Enqueue(ctx, queue.EvaluateReading(e.reading(t, 35))))
	require.Eventually(t, func() bool { return ch.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	recs := e.pendingRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, rule.ID, recs[0].RuleID)
	assert.Equal(t, entities.SeverityHigh, ch.messages[0].Severity)
	assert.InDelta(t, 35.0, ch.messages[0].CurrentValue, 1e-9)

	logs, err := e.notifications.ListLogs(t.Context(), recs[0].ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.NotificationSent, logs[0].Status)
}
