package alerting

import (
	"context"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
	"github.com/envsense/envsense/internal/queue"
)

// Enqueuer is the part of queue.Queue the evaluator needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// EvaluatorConfig tunes rule evaluation.
type EvaluatorConfig struct {
	// Epsilon is the tolerance of equal and not_equal.
	Epsilon float64
	// AutoResolve closes a pending record once its condition stops holding.
	AutoResolve bool
	// RuleCacheTTL bounds how long enabled rules of a device are served
	// from memory. Zero disables caching. The cache is local to this
	// Evaluator; InvalidateDevice does not reach other processes, which
	// may serve a changed rule until the TTL expires.
	RuleCacheTTL time.Duration
}

// Evaluator applies a device's enabled rules to each stored reading.
type Evaluator struct {
	readings repository.ReadingRepository
	rules    repository.AlertRuleRepository
	records  repository.AlertRecordRepository
	tasks    Enqueuer
	cfg      EvaluatorConfig
	cache    *cache.Cache
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEvaluator creates an Evaluator. m may be nil.
func NewEvaluator(
	readings repository.ReadingRepository,
	rules repository.AlertRuleRepository,
	records repository.AlertRecordRepository,
	tasks Enqueuer,
	cfg EvaluatorConfig,
	log logger.Logger,
	m *metrics.Metrics,
) *Evaluator {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEqualityEpsilon
	}
	e := &Evaluator{
		readings: readings,
		rules:    rules,
		records:  records,
		tasks:    tasks,
		cfg:      cfg,
		log:      log.Module("evaluator"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.RuleCacheTTL > 0 {
		e.cache = cache.New(cfg.RuleCacheTTL, 2*cfg.RuleCacheTTL)
	}
	return e
}

// InvalidateDevice drops cached rules for deviceID in this process. Call it
// after any rule mutation touching the device.
func (e *Evaluator) InvalidateDevice(deviceID uint) {
	if e.cache != nil {
		e.cache.Delete(cacheKey(deviceID))
	}
}

func cacheKey(deviceID uint) string {
	return strconv.FormatUint(uint64(deviceID), 10)
}

func (e *Evaluator) rulesFor(ctx context.Context, deviceID uint) ([]entities.AlertRule, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey(deviceID)); ok {
			return cached.([]entities.AlertRule), nil
		}
	}
	rules, err := e.rules.GetEnabledRulesForDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.SetDefault(cacheKey(deviceID), rules)
	}
	return rules, nil
}

// EvaluateReading runs every enabled rule of the reading's device. A reading
// that no longer exists is ignored. Errors of individual rules do not stop
// the remaining rules; they are joined into the returned error.
func (e *Evaluator) EvaluateReading(ctx context.Context, readingID uint) error {
	reading, err := e.readings.GetReading(ctx, readingID)
	if err != nil {
		if repository.IsNotFound(err) {
			e.log.Debug("reading vanished before evaluation", logger.Uint64("reading_id", uint64(readingID)))
			return nil
		}
		return err
	}
	if reading.Device == nil {
		e.log.Debug("reading has no device", logger.Uint64("reading_id", uint64(readingID)))
		return nil
	}

	rules, err := e.rulesFor(ctx, reading.DeviceID)
	if err != nil {
		return err
	}

	var errs []error
	for i := range rules {
		rule := &rules[i]
		value, ok := reading.FieldValue(rule.SensorType)
		if !ok {
			continue
		}
		e.metrics.IncEvaluated()

		if !Evaluate(rule, value, e.cfg.Epsilon) {
			if e.cfg.AutoResolve {
				if err := e.autoResolve(ctx, rule, reading.DeviceID, value); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		if err := e.trigger(ctx, rule, reading.DeviceID, value); err != nil {
			e.log.Error("rule trigger failed",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.Uint64("device_id", uint64(reading.DeviceID)),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// trigger handles a rule whose condition holds. An open pending record is
// governed by the repeat interval alone; cooldown gates new records.
func (e *Evaluator) trigger(ctx context.Context, rule *entities.AlertRule, deviceID uint, value float64) error {
	now := e.now()

	pending, err := e.records.FindPending(ctx, rule.ID, deviceID)
	switch {
	case err == nil:
		return e.repeat(ctx, rule, pending, value, now)
	case !repository.IsNotFound(err):
		return err
	}

	last, err := e.records.LastTriggeredAt(ctx, rule.ID, deviceID)
	if err != nil {
		return err
	}
	if last != nil && rule.CooldownMinutes > 0 && now.Sub(*last) < rule.Cooldown() {
		e.metrics.IncSuppressed(suppressedCooldown)
		e.log.Debug("trigger suppressed by cooldown",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.Uint64("device_id", uint64(deviceID)))
		return nil
	}

	rec := &entities.AlertRecord{
		RuleID:       rule.ID,
		DeviceID:     deviceID,
		Message:      FormatMessage(rule, value),
		CurrentValue: value,
		Severity:     rule.Severity,
		TriggeredAt:  now,
	}
	created, err := e.records.CreatePending(ctx, rec)
	if err != nil {
		return err
	}
	if !created {
		// Another worker won the insert for this pair.
		e.metrics.IncSuppressed(suppressedPending)
		return nil
	}

	e.metrics.IncTriggered(string(rule.Severity))
	e.log.Info("alert triggered",
		logger.Uint64("record_id", uint64(rec.ID)),
		logger.Uint64("rule_id", uint64(rule.ID)),
		logger.Uint64("device_id", uint64(deviceID)),
		logger.String("severity", string(rule.Severity)),
		logger.Float64("value", value))

	return e.tasks.Enqueue(ctx, queue.DispatchNotification(rule.ID, rec.ID, value))
}

// repeat re-notifies an existing pending record once its repeat interval has
// elapsed since the last notification.
func (e *Evaluator) repeat(ctx context.Context, rule *entities.AlertRule, rec *entities.AlertRecord, value float64, now time.Time) error {
	if !rule.RepeatAlert {
		e.metrics.IncSuppressed(suppressedPending)
		return nil
	}
	ref := rec.TriggeredAt
	if rec.LastNotifiedAt != nil {
		ref = *rec.LastNotifiedAt
	}
	if now.Sub(ref) < rule.RepeatInterval() {
		e.metrics.IncSuppressed(suppressedPending)
		return nil
	}
	e.log.Info("repeating alert notification",
		logger.Uint64("record_id", uint64(rec.ID)),
		logger.Int("notification_count", rec.NotificationCount))
	return e.tasks.Enqueue(ctx, queue.DispatchNotification(rule.ID, rec.ID, value))
}

func (e *Evaluator) autoResolve(ctx context.Context, rule *entities.AlertRule, deviceID uint, value float64) error {
	closed, err := e.records.AutoResolve(ctx, rule.ID, deviceID, value, e.now())
	if err != nil {
		return err
	}
	if closed {
		e.metrics.IncClosed(string(entities.AlertStatusAutoResolved))
		e.log.Info("alert auto-resolved",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.Uint64("device_id", uint64(deviceID)),
			logger.Float64("value", value))
	}
	return nil
}
