// Package mqtt feeds sensor readings published on
// <prefix>/<serial>/readings into the ingest service.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/envsense/envsense/internal/conf"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/ingest"
	"github.com/envsense/envsense/internal/logger"
)

const (
	connectTimeout  = 10 * time.Second
	handleTimeout   = 10 * time.Second
	disconnectQuiet = 250 // ms
	readingsSuffix  = "readings"
)

// Ingester stores a reading for a device addressed by serial.
type Ingester interface {
	IngestBySerial(ctx context.Context, serial string, p *ingest.Payload, source string) (uint, error)
}

// Subscriber consumes reading messages from the broker.
type Subscriber struct {
	cfg      conf.MQTTSettings
	ingester Ingester
	log      logger.Logger
}

// NewSubscriber creates a Subscriber. It does not connect until Run.
func NewSubscriber(cfg conf.MQTTSettings, ingester Ingester, log logger.Logger) *Subscriber {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "devices"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "envsense"
	}
	return &Subscriber{cfg: cfg, ingester: ingester, log: log.Module("mqtt")}
}

// Topic is the subscription filter.
func (s *Subscriber) Topic() string {
	return strings.TrimSuffix(s.cfg.TopicPrefix, "/") + "/+/" + readingsSuffix
}

// SerialFromTopic extracts the device serial from a readings topic.
func SerialFromTopic(prefix, topic string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", false
	}
	serial, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != readingsSuffix || serial == "" {
		return "", false
	}
	return serial, true
}

func (s *Subscriber) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(60 * time.Second)
	// Subscriptions are made in the connect handler so they survive
	// automatic reconnects of a clean session.
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.Topic(), s.cfg.QoS, s.onMessage)
		if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
			s.log.Error("mqtt subscribe failed",
				logger.String("topic", s.Topic()),
				logger.Error(token.Error()))
			return
		}
		s.log.Info("mqtt subscribed", logger.String("topic", s.Topic()))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.Warn("mqtt connection lost", logger.Error(err))
	})
	return opts
}

// Run connects, consumes until ctx is cancelled and disconnects.
func (s *Subscriber) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	client := paho.NewClient(s.options())
	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return nil
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return errors.Newf("failed to connect to MQTT broker %s: %w", s.cfg.Broker, err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s.log.Info("mqtt connected", logger.String("broker", s.cfg.Broker))

	<-ctx.Done()
	client.Disconnect(disconnectQuiet)
	s.log.Info("mqtt disconnected")
	return nil
}

func (s *Subscriber) onMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
		s.log.Warn("mqtt reading rejected",
			logger.String("topic", msg.Topic()),
			logger.Error(err))
	}
}

// HandleMessage ingests one readings message.
func (s *Subscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	serial, ok := SerialFromTopic(s.cfg.TopicPrefix, topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	var p ingest.Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Newf("invalid reading payload: %w", err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}
	// The topic names the device; a device id in the body is ignored.
	p.Device = nil
	_, err := s.ingester.IngestBySerial(ctx, serial, &p, ingest.SourceMQTT)
	return err
}
