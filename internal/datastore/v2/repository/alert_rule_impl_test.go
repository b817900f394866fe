package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

func TestAlertRuleRepository_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	ctx := t.Context()

	rule := &entities.AlertRule{
		Name:         "Comfort band",
		Description:  "Humidity outside 30-60%",
		DeviceID:     f.device.ID,
		SensorType:   entities.SensorHumidity,
		Condition:    "outside",
		ThresholdMin: ptr(30.0),
		ThresholdMax: ptr(60.0),
		Severity:     entities.SeverityLow,
		Enabled:      true,
		CreatedBy:    f.user.ID,
	}
	require.NoError(t, repo.CreateRule(ctx, rule))
	assert.NotZero(t, rule.ID)

	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Comfort band", got.Name)
	assert.Equal(t, "outside", got.Condition)
	assert.Nil(t, got.Threshold)
	require.NotNil(t, got.ThresholdMin)
	require.NotNil(t, got.ThresholdMax)
	assert.InDelta(t, 30.0, *got.ThresholdMin, 1e-9)
	assert.InDelta(t, 60.0, *got.ThresholdMax, 1e-9)
	require.NotNil(t, got.Device, "device should be preloaded")
	assert.Equal(t, "SN-001", got.Device.Serial)

	_, err = repo.GetRule(ctx, 9999)
	require.ErrorIs(t, err, ErrAlertRuleNotFound)
}

func TestAlertRuleRepository_GetOwnedRule(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	bob := createTestUser(t, f.db, "bob")

	got, err := repo.GetOwnedRule(t.Context(), f.rule.ID, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, f.rule.ID, got.ID)

	_, err = repo.GetOwnedRule(t.Context(), f.rule.ID, bob.ID)
	require.ErrorIs(t, err, ErrAlertRuleNotFound)
}

func TestAlertRuleRepository_ListRules(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	ctx := t.Context()

	second := createTestDevice(t, f.db, f.user, "SN-002")
	humid := createTestRule(t, f.db, second, "Humid")
	humid.SensorType = entities.SensorHumidity
	humid.Enabled = false
	require.NoError(t, repo.UpdateRule(ctx, humid))

	bob := createTestUser(t, f.db, "bob")
	createTestRule(t, f.db, createTestDevice(t, f.db, bob, "SN-100"), "Bob's rule")

	t.Run("owner scope", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, AlertRuleFilter{OwnerID: f.user.ID})
		require.NoError(t, err)
		assert.Len(t, rules, 2)
	})

	t.Run("filter by device", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, AlertRuleFilter{OwnerID: f.user.ID, DeviceID: second.ID})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "Humid", rules[0].Name)
	})

	t.Run("filter by sensor type", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, AlertRuleFilter{SensorType: entities.SensorTemperature})
		require.NoError(t, err)
		assert.Len(t, rules, 2)
	})

	t.Run("filter by enabled", func(t *testing.T) {
		enabled := false
		rules, err := repo.ListRules(ctx, AlertRuleFilter{OwnerID: f.user.ID, Enabled: &enabled})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, humid.ID, rules[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, AlertRuleFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, humid.ID, rules[0].ID)
	})
}

func TestAlertRuleRepository_UpdateRule(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	ctx := t.Context()

	f.rule.Name = "Very hot"
	f.rule.Threshold = ptr(40.0)
	f.rule.Enabled = false
	f.rule.CooldownMinutes = 0
	f.rule.RepeatAlert = true
	require.NoError(t, repo.UpdateRule(ctx, f.rule))

	got, err := repo.GetRule(ctx, f.rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Very hot", got.Name)
	assert.InDelta(t, 40.0, *got.Threshold, 1e-9)
	assert.False(t, got.Enabled, "zero-valued columns must be written")
	assert.Equal(t, 0, got.CooldownMinutes)
	assert.True(t, got.RepeatAlert)

	t.Run("other owner", func(t *testing.T) {
		foreign := *f.rule
		foreign.CreatedBy = f.user.ID + 100
		err := repo.UpdateRule(ctx, &foreign)
		require.ErrorIs(t, err, ErrAlertRuleNotFound)
	})

	t.Run("missing id", func(t *testing.T) {
		err := repo.UpdateRule(ctx, &entities.AlertRule{Name: "x"})
		require.Error(t, err)
	})
}

func TestAlertRuleRepository_UpdateRule_Unchanged(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)

	// Writing identical values still matches the row.
	require.NoError(t, repo.UpdateRule(t.Context(), f.rule))
}

func TestAlertRuleRepository_DeleteRule(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	ctx := t.Context()
	rec := f.pending(t, f.now())

	err := repo.DeleteRule(ctx, f.rule.ID, f.user.ID+1)
	require.ErrorIs(t, err, ErrAlertRuleNotFound)

	require.NoError(t, repo.DeleteRule(ctx, f.rule.ID, f.user.ID))
	_, err = repo.GetRule(ctx, f.rule.ID)
	require.ErrorIs(t, err, ErrAlertRuleNotFound)

	_, err = NewAlertRecordRepository(f.db).GetRecord(ctx, rec.ID)
	require.ErrorIs(t, err, ErrAlertRecordNotFound, "records cascade with their rule")
}

func TestAlertRuleRepository_ToggleRule(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	ctx := t.Context()

	enabled, err := repo.ToggleRule(ctx, f.rule.ID, f.user.ID)
	require.NoError(t, err)
	assert.False(t, enabled)

	enabled, err = repo.ToggleRule(ctx, f.rule.ID, f.user.ID)
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = repo.ToggleRule(ctx, f.rule.ID, f.user.ID+1)
	require.ErrorIs(t, err, ErrAlertRuleNotFound)

	got, err := repo.GetRule(ctx, f.rule.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
}

func TestAlertRuleRepository_GetEnabledRulesForDevice(t *testing.T) {
	f := newFixture(t)
	repo := NewAlertRuleRepository(f.db)
	ctx := t.Context()

	disabled := createTestRule(t, f.db, f.device, "Disabled")
	_, err := repo.ToggleRule(ctx, disabled.ID, f.user.ID)
	require.NoError(t, err)

	rules, err := repo.GetEnabledRulesForDevice(ctx, f.device.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, f.rule.ID, rules[0].ID)
	require.NotNil(t, rules[0].Device)
	assert.Equal(t, f.user.ID, rules[0].Device.OwnerID)

	rules, err = repo.GetEnabledRulesForDevice(ctx, 9999)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
