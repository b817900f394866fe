// Package notification delivers rendered alerts through the channel types
// a NotificationConfig can name.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// Message is one alert rendered for delivery, together with the channel
// config it is addressed to.
type Message struct {
	RecordID     uint
	RuleName     string
	DeviceName   string
	DeviceSerial string
	SensorType   string
	Severity     entities.Severity
	CurrentValue float64
	Threshold    *float64
	ThresholdMin *float64
	ThresholdMax *float64
	Text         string
	TriggeredAt  time.Time
	Config       *entities.NotificationConfig
}

// Title is the short subject line used by chat and email channels.
func (m Message) Title() string {
	return fmt.Sprintf("[%s] %s - %s", strings.ToUpper(string(m.Severity)), m.RuleName, m.DeviceName)
}

// Body is the plain text used by chat, email and SMS channels.
func (m Message) Body() string {
	return fmt.Sprintf("%s\nDevice: %s (%s)\nTriggered: %s",
		m.Text, m.DeviceName, m.DeviceSerial, m.TriggeredAt.UTC().Format(time.RFC3339))
}

// Outcome describes a finished delivery attempt.
type Outcome struct {
	// Recipient is where the message went, with credentials removed.
	Recipient string
	// Content is the payload as sent.
	Content string
}

// Channel delivers a message through one mechanism. The returned Outcome is
// meaningful even when err is non-nil, so failures can be audited.
type Channel interface {
	Deliver(ctx context.Context, msg Message) (Outcome, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) (Outcome, error)

func (f ChannelFunc) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	return f(ctx, msg)
}

// ErrSMSNotConfigured is returned for SMS configs without a gateway URL.
var ErrSMSNotConfigured = errors.NewStd("sms gateway not configured")

func deliveryError(channel entities.ChannelType, err error) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryDelivery).
		Context("channel", string(channel)).
		Build()
}
