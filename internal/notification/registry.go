package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
)

// Registry maps channel types to their Channel implementation.
type Registry struct {
	mu       sync.RWMutex
	channels map[entities.ChannelType]Channel
}

// Options configures the default channel set.
type Options struct {
	WebhookTimeout time.Duration
	// Send overrides the shoutrrr sender, mainly for tests.
	Send Sender
}

// NewRegistry returns a registry with every channel type wired.
func NewRegistry(opts Options) *Registry {
	send := opts.Send
	if send == nil {
		send = ShoutrrrSend
	}
	webhook := NewWebhookChannel(opts.WebhookTimeout)

	r := &Registry{channels: make(map[entities.ChannelType]Channel)}
	r.Register(entities.ChannelWebhook, webhook)
	r.Register(entities.ChannelEmail, NewEmailChannel(send))
	r.Register(entities.ChannelSMS, NewSMSChannel(send))
	for _, kind := range []entities.ChannelType{entities.ChannelWeChat, entities.ChannelDingTalk, entities.ChannelFeishu} {
		r.Register(kind, NewChatChannel(kind, send, webhook))
	}
	return r
}

// Register installs or replaces the channel for kind.
func (r *Registry) Register(kind entities.ChannelType, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[kind] = ch
}

// Get returns the channel for kind.
func (r *Registry) Get(kind entities.ChannelType) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[kind]
	return ch, ok
}

// Deliver sends msg through the channel named by msg.Config.Type.
func (r *Registry) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	if msg.Config == nil {
		return Outcome{}, deliveryError("", fmt.Errorf("message has no channel config"))
	}
	ch, ok := r.Get(msg.Config.Type)
	if !ok {
		return Outcome{}, deliveryError(msg.Config.Type, fmt.Errorf("unsupported channel type %q", msg.Config.Type))
	}
	return ch.Deliver(ctx, msg)
}
