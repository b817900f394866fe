package alerting

import (
	"context"
	"time"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/notification"
	"github.com/envsense/envsense/internal/observability/metrics"
)

// Deliverer sends a message through the channel named by msg.Config.
// notification.Registry implements it.
type Deliverer interface {
	Deliver(ctx context.Context, msg notification.Message) (notification.Outcome, error)
}

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	// MaxRetries is the number of extra attempts after a failed delivery.
	MaxRetries int
	RetryDelay time.Duration
	// Location is the zone quiet hours are read in. Nil means UTC.
	Location *time.Location
}

// Dispatcher fans an alert record out to every enabled channel of the rule
// owner and audits each attempt in the notification log.
type Dispatcher struct {
	rules         repository.AlertRuleRepository
	records       repository.AlertRecordRepository
	notifications repository.NotificationRepository
	channels      Deliverer
	cfg           DispatcherConfig
	log           logger.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(
	rules repository.AlertRuleRepository,
	records repository.AlertRecordRepository,
	notifications repository.NotificationRepository,
	channels Deliverer,
	cfg DispatcherConfig,
	log logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		rules:         rules,
		records:       records,
		notifications: notifications,
		channels:      channels,
		cfg:           cfg,
		log:           log.Module("dispatcher"),
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch notifies the owner of ruleID about recordID. value is the reading
// that caused this notification, which differs from the record's value on
// repeats. A rule or record that no longer exists is ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, ruleID, recordID uint, value float64) error {
	rule, err := d.rules.GetRule(ctx, ruleID)
	if err != nil {
		if repository.IsNotFound(err) {
			d.log.Debug("rule vanished before dispatch", logger.Uint64("rule_id", uint64(ruleID)))
			return nil
		}
		return err
	}
	rec, err := d.records.GetRecord(ctx, recordID)
	if err != nil {
		if repository.IsNotFound(err) {
			d.log.Debug("record vanished before dispatch", logger.Uint64("record_id", uint64(recordID)))
			return nil
		}
		return err
	}

	configs, err := d.notifications.ListConfigs(ctx, rule.CreatedBy, true)
	if err != nil {
		return err
	}

	now := d.now()
	sent := 0
	for i := range configs {
		cfg := &configs[i]
		if !rec.Severity.AtLeast(cfg.MinSeverity) {
			d.log.Debug("channel skipped below min severity",
				logger.Uint64("config_id", uint64(cfg.ID)),
				logger.String("min_severity", string(cfg.MinSeverity)))
			continue
		}
		if rec.Severity != entities.SeverityCritical && InQuietHours(cfg, now.In(d.cfg.Location)) {
			d.log.Debug("channel skipped in quiet hours", logger.Uint64("config_id", uint64(cfg.ID)))
			continue
		}
		if d.deliver(ctx, buildMessage(rule, rec, cfg, value)) {
			sent++
		}
	}

	if err := d.records.RecordNotification(ctx, rec.ID, sent, d.now()); err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	if len(configs) > 0 {
		d.log.Info("alert dispatched",
			logger.Uint64("record_id", uint64(rec.ID)),
			logger.Int("channels", len(configs)),
			logger.Int("sent", sent))
	}
	return nil
}

func buildMessage(rule *entities.AlertRule, rec *entities.AlertRecord, cfg *entities.NotificationConfig, value float64) notification.Message {
	msg := notification.Message{
		RecordID:     rec.ID,
		RuleName:     rule.Name,
		SensorType:   rule.SensorType,
		Severity:     rec.Severity,
		CurrentValue: value,
		Threshold:    rule.Threshold,
		ThresholdMin: rule.ThresholdMin,
		ThresholdMax: rule.ThresholdMax,
		Text:         FormatMessage(rule, value),
		TriggeredAt:  rec.TriggeredAt,
		Config:       cfg,
	}
	device := rec.Device
	if device == nil {
		device = rule.Device
	}
	if device != nil {
		msg.DeviceName = device.Name
		msg.DeviceSerial = device.Serial
	}
	return msg
}

// deliver runs one logged delivery, retrying failures up to MaxRetries
// times. It reports whether the message was sent.
func (d *Dispatcher) deliver(ctx context.Context, msg notification.Message) bool {
	cfg := msg.Config
	entry := &entities.NotificationLog{
		AlertRecordID:        msg.RecordID,
		NotificationConfigID: &cfg.ID,
		Channel:              cfg.Type,
		Status:               entities.NotificationPending,
		Content:              msg.Text,
	}
	if err := d.notifications.CreateLog(ctx, entry); err != nil {
		d.log.Error("failed to create notification log", logger.Error(err))
		return false
	}

	for {
		start := time.Now()
		outcome, err := d.channels.Deliver(ctx, msg)
		elapsed := time.Since(start).Seconds()
		if outcome.Recipient != "" {
			entry.Recipient = outcome.Recipient
		}
		if outcome.Content != "" {
			entry.Content = outcome.Content
		}

		if err == nil {
			sentAt := d.now()
			entry.Status = entities.NotificationSent
			entry.SentAt = &sentAt
			entry.ErrorMessage = ""
			d.metrics.ObserveDelivery(string(cfg.Type), string(entities.NotificationSent), elapsed)
			d.updateLog(ctx, entry)
			return true
		}

		entry.ErrorMessage = err.Error()
		d.log.Warn("notification delivery failed",
			logger.Uint64("record_id", uint64(msg.RecordID)),
			logger.String("channel", string(cfg.Type)),
			logger.Int("retry_count", entry.RetryCount),
			logger.Error(err))

		if entry.RetryCount >= d.cfg.MaxRetries || ctx.Err() != nil {
			entry.Status = entities.NotificationFailed
			d.metrics.ObserveDelivery(string(cfg.Type), string(entities.NotificationFailed), elapsed)
			d.updateLog(ctx, entry)
			return false
		}

		entry.Status = entities.NotificationRetrying
		entry.RetryCount++
		d.metrics.ObserveDelivery(string(cfg.Type), string(entities.NotificationRetrying), elapsed)
		d.updateLog(ctx, entry)
		if err := d.sleep(ctx, d.cfg.RetryDelay); err != nil {
			entry.Status = entities.NotificationFailed
			d.updateLog(context.WithoutCancel(ctx), entry)
			return false
		}
	}
}

func (d *Dispatcher) updateLog(ctx context.Context, entry *entities.NotificationLog) {
	if err := d.notifications.UpdateLog(ctx, entry); err != nil {
		d.log.Error("failed to update notification log",
			logger.Uint64("log_id", uint64(entry.ID)),
			logger.Error(err))
	}
}

// InQuietHours reports whether local falls inside the config's quiet window.
// The window is [start, end) and may wrap past midnight. Configs with
// notify_24h set, or without a complete window, have no quiet hours.
func InQuietHours(cfg *entities.NotificationConfig, local time.Time) bool {
	if cfg.Notify24h {
		return false
	}
	start, ok := parseClock(cfg.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseClock(cfg.QuietHoursEnd)
	if !ok || start == end {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
