package alerting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/queue"
)

func TestEvaluator_TriggerCreatesPendingAndEnqueuesDispatch(t *testing.T) {
	e := newEnv(t)
	rule := e.hotRule(t, nil)
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{})

	require.NoError(t, ev.EvaluateReading(t.Context(), e.reading(t, 35)))

	recs := e.pendingRecords(t)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, rule.ID, rec.RuleID)
	assert.Equal(t, e.device.ID, rec.DeviceID)
	assert.Equal(t, entities.SeverityHigh, rec.Severity)
	assert.InDelta(t, 35.0, rec.CurrentValue, 1e-9)
	assert.Equal(t, "Temperature greater than 30, current value: 35", rec.Message)

	tasks := q.snapshot()
	require.Len(t, tasks, 1)
	assert.Equal(t, queue.TaskDispatchNotification, tasks[0].Type)
	assert.Equal(t, rule.ID, tasks[0].RuleID)
	assert.Equal(t, rec.ID, tasks[0].RecordID)
	assert.InDelta(t, 35.0, tasks[0].Value, 1e-9)
}

func TestEvaluator_NoTriggerBelowThreshold(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, nil)
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{})

	require.NoError(t, ev.EvaluateReading(t.Context(), e.reading(t, 30)))
	assert.Empty(t, e.pendingRecords(t))
	assert.Empty(t, q.snapshot())
}

func TestEvaluator_MissingReadingIsNoop(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, nil)
	q := &recordingQueue{}
	require.NoError(t, e.evaluator(q, EvaluatorConfig{}).EvaluateReading(t.Context(), 9999))
	assert.Empty(t, q.snapshot())
}

func TestEvaluator_AbsentFieldSkipsRule(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, nil)
	q := &recordingQueue{}
	r := &entities.SensorReading{DeviceID: e.device.ID, Timestamp: e.clock, Humidity: ptr(80.0), IsValid: true}
	require.NoError(t, e.readings.CreateReading(t.Context(), r))

	require.NoError(t, e.evaluator(q, EvaluatorConfig{}).EvaluateReading(t.Context(), r.ID))
	assert.Empty(t, e.pendingRecords(t))
}

func TestEvaluator_DisabledAndForeignRulesIgnored(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, func(r *entities.AlertRule) { r.Enabled = false })

	other := &entities.Device{Serial: "SN-002", Name: "Barn", OwnerID: e.user.ID}
	require.NoError(t, e.db.Create(other).Error)
	e.hotRule(t, func(r *entities.AlertRule) { r.DeviceID = other.ID })

	q := &recordingQueue{}
	require.NoError(t, e.evaluator(q, EvaluatorConfig{}).EvaluateReading(t.Context(), e.reading(t, 40)))
	assert.Empty(t, e.pendingRecords(t))
}

func TestEvaluator_PendingIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, func(r *entities.AlertRule) { r.CooldownMinutes = 0 })
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{})

	require.NoError(t, ev.EvaluateReading(t.Context(), e.reading(t, 35)))
	e.advance(time.Minute)
	require.NoError(t, ev.EvaluateReading(t.Context(), e.reading(t, 36)))

	assert.Len(t, e.pendingRecords(t), 1)
	assert.Len(t, q.snapshot(), 1, "no second dispatch while repeat is off")
}

func TestEvaluator_CooldownSuppressesAfterClose(t *testing.T) {
	e := newEnv(t)
	rule := e.hotRule(t, func(r *entities.AlertRule) { r.CooldownMinutes = 5 })
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{})
	ctx := t.Context()

	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 35)))
	rec := e.pendingRecords(t)[0]
	require.NoError(t, e.records.Resolve(ctx, rec.ID, e.user.ID, repository.ResolveParams{RecoveryValue: ptr(28.0)}, e.clock))

	e.advance(4 * time.Minute)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 36)))
	assert.Empty(t, e.pendingRecords(t), "resolved record still inside cooldown")

	e.advance(2 * time.Minute)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 37)))
	recs := e.pendingRecords(t)
	require.Len(t, recs, 1)
	assert.NotEqual(t, rec.ID, recs[0].ID)
	assert.Equal(t, rule.ID, recs[0].RuleID)
	assert.Len(t, q.snapshot(), 2)
}

func TestEvaluator_RepeatRenotifiesPendingRecord(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, func(r *entities.AlertRule) {
		r.CooldownMinutes = 1
		r.RepeatAlert = true
		r.RepeatIntervalMinutes = 30
	})
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{})
	ctx := t.Context()

	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 35)))
	rec := e.pendingRecords(t)[0]
	require.NoError(t, e.records.RecordNotification(ctx, rec.ID, 1, e.clock))

	e.advance(10 * time.Minute)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 36)))
	assert.Len(t, q.snapshot(), 1, "repeat interval not reached")

	e.advance(25 * time.Minute)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 38)))
	tasks := q.snapshot()
	require.Len(t, tasks, 2)
	assert.Equal(t, rec.ID, tasks[1].RecordID, "repeat reuses the pending record")
	assert.InDelta(t, 38.0, tasks[1].Value, 1e-9)
	assert.Len(t, e.pendingRecords(t), 1)
}

func TestEvaluator_RepeatShorterThanCooldown(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, func(r *entities.AlertRule) {
		r.CooldownMinutes = 60
		r.RepeatAlert = true
		r.RepeatIntervalMinutes = 30
	})
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{})
	ctx := t.Context()

	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 35)))
	rec := e.pendingRecords(t)[0]
	require.NoError(t, e.records.RecordNotification(ctx, rec.ID, 1, e.clock))

	e.advance(31 * time.Minute)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 36)))
	tasks := q.snapshot()
	require.Len(t, tasks, 2, "repeat is due before the cooldown ends")
	assert.Equal(t, rec.ID, tasks[1].RecordID)

	// Once closed, the cooldown still holds back a new record.
	require.NoError(t, e.records.Resolve(ctx, rec.ID, e.user.ID, repository.ResolveParams{}, e.clock))
	e.advance(time.Minute)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 37)))
	assert.Empty(t, e.pendingRecords(t))
	assert.Len(t, q.snapshot(), 2)
}

func TestEvaluator_AutoResolve(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, nil)
	q := &recordingQueue{}
	ctx := t.Context()

	require.NoError(t, e.evaluator(q, EvaluatorConfig{}).EvaluateReading(ctx, e.reading(t, 35)))
	rec := e.pendingRecords(t)[0]

	e.advance(10 * time.Minute)
	require.NoError(t, e.evaluator(q, EvaluatorConfig{}).EvaluateReading(ctx, e.reading(t, 25)))
	require.Len(t, e.pendingRecords(t), 1, "auto resolve is opt-in")

	require.NoError(t, e.evaluator(q, EvaluatorConfig{AutoResolve: true}).EvaluateReading(ctx, e.reading(t, 25)))
	assert.Empty(t, e.pendingRecords(t))

	got, err := e.records.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusAutoResolved, got.Status)
	require.NotNil(t, got.RecoveryValue)
	assert.InDelta(t, 25.0, *got.RecoveryValue, 1e-9)
	require.NotNil(t, got.RecoverySeconds)
	assert.Equal(t, int64(600), *got.RecoverySeconds)
}

func TestEvaluator_RuleCacheAndInvalidation(t *testing.T) {
	e := newEnv(t)
	rule := e.hotRule(t, func(r *entities.AlertRule) { r.Threshold = ptr(50.0) })
	q := &recordingQueue{}
	ev := e.evaluator(q, EvaluatorConfig{RuleCacheTTL: time.Hour})
	ctx := t.Context()

	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 35)))
	assert.Empty(t, e.pendingRecords(t))

	rule.Threshold = ptr(30.0)
	require.NoError(t, e.rules.UpdateRule(ctx, rule))
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 35)))
	assert.Empty(t, e.pendingRecords(t), "stale cached rule still applies")

	ev.InvalidateDevice(e.device.ID)
	require.NoError(t, ev.EvaluateReading(ctx, e.reading(t, 35)))
	assert.Len(t, e.pendingRecords(t), 1)
}

func TestEvaluator_EnqueueFailureIsReturned(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, nil)
	q := &recordingQueue{err: queue.ErrQueueFull}

	err := e.evaluator(q, EvaluatorConfig{}).EvaluateReading(t.Context(), e.reading(t, 35))
	require.Error(t, err)
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	assert.Len(t, e.pendingRecords(t), 1, "record survives a failed enqueue")
}

func TestTaskHandler_RoutesByType(t *testing.T) {
	e := newEnv(t)
	e.hotRule(t, nil)
	e.channel(t, entities.ChannelWebhook, entities.SeverityMedium, nil)
	q := &recordingQueue{}
	ch := &fakeChannels{}
	handle := NewTaskHandler(e.evaluator(q, EvaluatorConfig{}), e.dispatcher(ch, DispatcherConfig{}))
	ctx := t.Context()

	require.NoError(t, handle(ctx, queue.EvaluateReading(e.reading(t, 35))))
	tasks := q.snapshot()
	require.Len(t, tasks, 1)
	require.NoError(t, handle(ctx, tasks[0]))
	assert.Equal(t, 1, ch.count())

	err := handle(ctx, &queue.Task{Type: "reindex"})
	require.Error(t, err)
	assert.False(t, errors.IsCategory(err, errors.CategoryQueue))
}
