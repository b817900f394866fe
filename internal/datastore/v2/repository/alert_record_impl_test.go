package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

func TestAlertRecordRepository_CreatePending_Idempotent(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	first := f.pending(t, f.now())
	assert.NotZero(t, first.ID)
	assert.Equal(t, entities.AlertStatusPending, first.Status)

	dup := &entities.AlertRecord{
		RuleID: f.rule.ID, DeviceID: f.device.ID,
		Message: "again", CurrentValue: 36, Severity: entities.SeverityHigh,
	}
	created, err := repo.CreatePending(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, dup.ID)

	records, total, err := repo.ListRecords(ctx, AlertRecordFilter{RuleID: f.rule.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, records, 1)

	// Leaving pending frees the slot for a new incident.
	require.NoError(t, repo.Acknowledge(ctx, first.ID, f.user.ID, nil, f.now()))
	f.pending(t, f.now())
}

func TestAlertRecordRepository_CreatePending_Concurrent(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CreatePending(ctx, &entities.AlertRecord{
				RuleID: f.rule.ID, DeviceID: f.device.ID,
				Message: "concurrent", CurrentValue: 35, Severity: entities.SeverityHigh,
			})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created, "exactly one pending record per rule and device")
}

func TestAlertRecordRepository_FindPendingAndLastTriggered(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	last, err := repo.LastTriggeredAt(ctx, f.rule.ID, f.device.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = repo.FindPending(ctx, f.rule.ID, f.device.ID)
	require.ErrorIs(t, err, ErrAlertRecordNotFound)

	older := f.now().Add(-time.Hour)
	rec := f.pending(t, older)
	require.NoError(t, repo.Resolve(ctx, rec.ID, f.user.ID, ResolveParams{}, f.now()))

	newer := f.now().Add(-time.Minute)
	pending := f.pending(t, newer)

	got, err := repo.FindPending(ctx, f.rule.ID, f.device.ID)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, got.ID)

	last, err = repo.LastTriggeredAt(ctx, f.rule.ID, f.device.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(newer), "got %v want %v", last, newer)
}

func TestAlertRecordRepository_Acknowledge(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()
	rec := f.pending(t, f.now())
	bob := createTestUser(t, f.db, "bob")

	t.Run("not owner", func(t *testing.T) {
		err := repo.Acknowledge(ctx, rec.ID, bob.ID, nil, f.now())
		require.ErrorIs(t, err, ErrAlertRecordNotFound)
	})

	t.Run("from pending", func(t *testing.T) {
		notes := "checking the vent"
		require.NoError(t, repo.Acknowledge(ctx, rec.ID, f.user.ID, &notes, f.now()))

		got, err := repo.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.AlertStatusAcknowledged, got.Status)
		require.NotNil(t, got.AcknowledgedAt)
		require.NotNil(t, got.AcknowledgedBy)
		assert.Equal(t, f.user.ID, *got.AcknowledgedBy)
		assert.Equal(t, "checking the vent", got.Notes)
		assert.Nil(t, got.PendingKey)
	})

	t.Run("twice", func(t *testing.T) {
		err := repo.Acknowledge(ctx, rec.ID, f.user.ID, nil, f.now())
		require.ErrorIs(t, err, ErrAlertRecordNotFound)
	})
}

func TestAlertRecordRepository_Resolve(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	triggered := f.now().Add(-90 * time.Second)
	rec := f.pending(t, triggered)
	require.NoError(t, repo.Acknowledge(ctx, rec.ID, f.user.ID, nil, f.now()))

	notes := "replaced fan"
	err := repo.Resolve(ctx, rec.ID, f.user.ID, ResolveParams{Notes: &notes, RecoveryValue: ptr(24.5)}, triggered.Add(90*time.Second))
	require.NoError(t, err)

	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, f.user.ID, *got.ResolvedBy)
	require.NotNil(t, got.RecoverySeconds)
	assert.EqualValues(t, 90, *got.RecoverySeconds)
	require.NotNil(t, got.RecoveryValue)
	assert.InDelta(t, 24.5, *got.RecoveryValue, 1e-9)
	assert.Equal(t, "replaced fan", got.Notes)

	// A resolved record cannot be resolved again.
	err = repo.Resolve(ctx, rec.ID, f.user.ID, ResolveParams{}, f.now())
	require.ErrorIs(t, err, ErrAlertRecordNotFound)

	t.Run("directly from pending", func(t *testing.T) {
		rec := f.pending(t, f.now())
		require.NoError(t, repo.Resolve(ctx, rec.ID, f.user.ID, ResolveParams{}, f.now()))
	})

	t.Run("not owner", func(t *testing.T) {
		rec := f.pending(t, f.now())
		err := repo.Resolve(ctx, rec.ID, f.user.ID+50, ResolveParams{}, f.now())
		require.ErrorIs(t, err, ErrAlertRecordNotFound)
	})
}

func TestAlertRecordRepository_MarkFalseAlarm(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	rec := f.pending(t, f.now())
	require.NoError(t, repo.MarkFalseAlarm(ctx, rec.ID, f.user.ID, nil, f.now()))

	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusFalseAlarm, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	acked := f.pending(t, f.now())
	require.NoError(t, repo.Acknowledge(ctx, acked.ID, f.user.ID, nil, f.now()))
	err = repo.MarkFalseAlarm(ctx, acked.ID, f.user.ID, nil, f.now())
	require.ErrorIs(t, err, ErrAlertRecordNotFound, "false alarm is reachable from pending only")
}

func TestAlertRecordRepository_AutoResolve(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	ok, err := repo.AutoResolve(ctx, f.rule.ID, f.device.ID, 22, f.now())
	require.NoError(t, err)
	assert.False(t, ok)

	triggered := f.now().Add(-10 * time.Minute)
	rec := f.pending(t, triggered)
	ok, err = repo.AutoResolve(ctx, f.rule.ID, f.device.ID, 22, triggered.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AlertStatusAutoResolved, got.Status)
	assert.Nil(t, got.ResolvedBy)
	require.NotNil(t, got.RecoverySeconds)
	assert.EqualValues(t, 600, *got.RecoverySeconds)
	assert.InDelta(t, 22.0, *got.RecoveryValue, 1e-9)
}

func TestAlertRecordRepository_RecordNotification(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()
	rec := f.pending(t, f.now())

	require.NoError(t, repo.RecordNotification(ctx, rec.ID, 0, f.now()))
	got, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.NotificationSent)
	assert.NotNil(t, got.LastNotifiedAt)

	require.NoError(t, repo.RecordNotification(ctx, rec.ID, 2, f.now()))
	require.NoError(t, repo.RecordNotification(ctx, rec.ID, 1, f.now()))
	got, err = repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.NotificationSent)
	assert.Equal(t, 3, got.NotificationCount)

	err = repo.RecordNotification(ctx, 9999, 1, f.now())
	require.ErrorIs(t, err, ErrAlertRecordNotFound)
}

func TestAlertRecordRepository_ListRecords(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	other := createTestRule(t, f.db, f.device, "Cold")
	older := f.pending(t, f.now().Add(-2*time.Hour))
	require.NoError(t, repo.Acknowledge(ctx, older.ID, f.user.ID, nil, f.now()))
	f.pending(t, f.now().Add(-time.Hour))
	_, err := repo.CreatePending(ctx, &entities.AlertRecord{
		RuleID: other.ID, DeviceID: f.device.ID, Message: "cold",
		CurrentValue: 2, Severity: entities.SeverityCritical, TriggeredAt: f.now(),
	})
	require.NoError(t, err)

	bob := createTestUser(t, f.db, "bob")

	t.Run("owner sees all", func(t *testing.T) {
		records, total, err := repo.ListRecords(ctx, AlertRecordFilter{OwnerID: f.user.ID})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		require.Len(t, records, 3)
		assert.Equal(t, other.ID, records[0].RuleID, "newest first")
		require.NotNil(t, records[0].Rule)
		require.NotNil(t, records[0].Device)
	})

	t.Run("other user sees none", func(t *testing.T) {
		records, total, err := repo.ListRecords(ctx, AlertRecordFilter{OwnerID: bob.ID})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, records)
	})

	t.Run("status and severity", func(t *testing.T) {
		records, _, err := repo.ListRecords(ctx, AlertRecordFilter{OwnerID: f.user.ID, Status: entities.AlertStatusPending})
		require.NoError(t, err)
		assert.Len(t, records, 2)

		records, _, err = repo.ListRecords(ctx, AlertRecordFilter{Severity: entities.SeverityCritical})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("paginated total", func(t *testing.T) {
		records, total, err := repo.ListRecords(ctx, AlertRecordFilter{OwnerID: f.user.ID, Limit: 1, Offset: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		require.Len(t, records, 1)
		assert.Equal(t, older.ID, records[0].ID)
	})

	t.Run("since", func(t *testing.T) {
		records, _, err := repo.ListRecords(ctx, AlertRecordFilter{Since: f.now().Add(-90 * time.Minute)})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestAlertRecordRepository_StatsAndTopDevices(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	ctx := t.Context()

	second := createTestDevice(t, f.db, f.user, "SN-002")
	secondRule := createTestRule(t, f.db, second, "Hot 2")

	for range 2 {
		rec := f.pending(t, f.now())
		require.NoError(t, repo.Resolve(ctx, rec.ID, f.user.ID, ResolveParams{}, f.now()))
	}
	f.pending(t, f.now())
	_, err := repo.CreatePending(ctx, &entities.AlertRecord{
		RuleID: secondRule.ID, DeviceID: second.ID, Message: "hot",
		CurrentValue: 31, Severity: entities.SeverityLow, TriggeredAt: f.now(),
	})
	require.NoError(t, err)

	stats, err := repo.Stats(ctx, AlertStatsFilter{OwnerID: f.user.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 4, stats.Total)
	assert.EqualValues(t, 2, stats.ByStatus[entities.AlertStatusPending])
	assert.EqualValues(t, 2, stats.ByStatus[entities.AlertStatusResolved])
	assert.EqualValues(t, 3, stats.BySeverity[entities.SeverityHigh])
	assert.EqualValues(t, 1, stats.BySeverity[entities.SeverityLow])

	window, err := repo.Stats(ctx, AlertStatsFilter{OwnerID: f.user.ID, Since: f.now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Zero(t, window.Total)

	top, err := repo.TopDevices(ctx, AlertStatsFilter{OwnerID: f.user.ID}, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, f.device.ID, top[0].DeviceID)
	assert.Equal(t, f.device.Name, top[0].DeviceName)
	assert.EqualValues(t, 3, top[0].Count)
	assert.EqualValues(t, 1, top[1].Count)

	top, err = repo.TopDevices(ctx, AlertStatsFilter{OwnerID: f.user.ID}, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestAlertRecordRepository_DeleteClosedBefore(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRecordRepository(f.db)
	notifications := NewNotificationRepository(f.db)
	ctx := t.Context()
	now := f.now()

	closeAt := func(status entities.AlertStatus, age time.Duration) *entities.AlertRecord {
		t.Helper()
		at := now.Add(-age)
		rec := f.pending(t, at.Add(-time.Minute))
		switch status {
		case entities.AlertStatusResolved:
			require.NoError(t, repo.Resolve(ctx, rec.ID, f.user.ID, ResolveParams{}, at))
		case entities.AlertStatusFalseAlarm:
			require.NoError(t, repo.MarkFalseAlarm(ctx, rec.ID, f.user.ID, nil, at))
		case entities.AlertStatusAutoResolved:
			_, err := repo.AutoResolve(ctx, f.rule.ID, f.device.ID, 20, at)
			require.NoError(t, err)
		}
		return rec
	}

	day := 24 * time.Hour
	expiredResolved := closeAt(entities.AlertStatusResolved, 91*day)
	expiredFalse := closeAt(entities.AlertStatusFalseAlarm, 91*day)
	expiredAuto := closeAt(entities.AlertStatusAutoResolved, 91*day)
	recent := closeAt(entities.AlertStatusResolved, 89*day)

	acked := f.pending(t, now.Add(-100*day))
	require.NoError(t, repo.Acknowledge(ctx, acked.ID, f.user.ID, nil, now.Add(-100*day)))
	open := f.pending(t, now.Add(-120*day))

	require.NoError(t, notifications.CreateLog(ctx, &entities.NotificationLog{
		AlertRecordID: expiredResolved.ID, Channel: entities.ChannelWebhook, Status: entities.NotificationSent,
	}))
	require.NoError(t, notifications.CreateLog(ctx, &entities.NotificationLog{
		AlertRecordID: recent.ID, Channel: entities.ChannelWebhook, Status: entities.NotificationSent,
	}))

	deleted, err := repo.DeleteClosedBefore(ctx, now.Add(-90*day))
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	for _, gone := range []*entities.AlertRecord{expiredResolved, expiredFalse, expiredAuto} {
		_, err := repo.GetRecord(ctx, gone.ID)
		require.ErrorIs(t, err, ErrAlertRecordNotFound)
	}
	for _, kept := range []*entities.AlertRecord{recent, acked, open} {
		_, err := repo.GetRecord(ctx, kept.ID)
		require.NoError(t, err)
	}

	logs, err := notifications.ListLogs(ctx, expiredResolved.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
	logs, err = notifications.ListLogs(ctx, recent.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
