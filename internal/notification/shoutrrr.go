package notification

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// Sender pushes a titled message to a shoutrrr service URL.
type Sender func(ctx context.Context, serviceURL, title, body string) error

// ShoutrrrSend is the Sender backed by shoutrrr's service router.
func ShoutrrrSend(_ context.Context, serviceURL, title, body string) error {
	sender, err := shoutrrr.CreateSender(serviceURL)
	if err != nil {
		return fmt.Errorf("invalid service url: %w", err)
	}
	params := types.Params{"title": title}
	return errors.Join(sender.Send(body, &params)...)
}

// urlResolver extracts the shoutrrr service URL from a config.
type urlResolver func(cfg *entities.NotificationConfig) (string, error)

// ShoutrrrChannel delivers through a shoutrrr service URL. When the config
// has no service URL and a fallback is set, delivery goes to the fallback.
type ShoutrrrChannel struct {
	kind     entities.ChannelType
	send     Sender
	resolve  urlResolver
	fallback Channel
}

func (s *ShoutrrrChannel) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	serviceURL, err := s.resolve(msg.Config)
	if err != nil {
		return Outcome{}, deliveryError(s.kind, err)
	}
	if serviceURL == "" && s.fallback != nil {
		return s.fallback.Deliver(ctx, msg)
	}

	out := Outcome{Recipient: redactURL(serviceURL), Content: msg.Title() + "\n" + msg.Body()}
	if err := s.send(ctx, serviceURL, msg.Title(), msg.Body()); err != nil {
		return out, deliveryError(s.kind, err)
	}
	return out, nil
}

// NewEmailChannel sends email through shoutrrr's smtp service. The URL is
// config["url"], or is built from host, port, username, password, from and
// to.
func NewEmailChannel(send Sender) *ShoutrrrChannel {
	return &ShoutrrrChannel{kind: entities.ChannelEmail, send: send, resolve: emailURL}
}

// NewSMSChannel sends SMS through the shoutrrr gateway URL in
// config["url"].
func NewSMSChannel(send Sender) *ShoutrrrChannel {
	return &ShoutrrrChannel{
		kind: entities.ChannelSMS,
		send: send,
		resolve: func(cfg *entities.NotificationConfig) (string, error) {
			if u := cfg.ConfigString("url"); u != "" {
				return u, nil
			}
			return "", ErrSMSNotConfigured
		},
	}
}

// NewChatChannel delivers to a chat integration through the shoutrrr URL in
// config["url"]. Configs that only carry config["webhook_url"] are posted
// to with webhook.
func NewChatChannel(kind entities.ChannelType, send Sender, webhook *WebhookChannel) *ShoutrrrChannel {
	return &ShoutrrrChannel{
		kind: kind,
		send: send,
		resolve: func(cfg *entities.NotificationConfig) (string, error) {
			if u := cfg.ConfigString("url"); u != "" {
				return u, nil
			}
			if cfg.ConfigString("webhook_url") != "" {
				return "", nil
			}
			return "", fmt.Errorf("%s url is not configured", kind)
		},
		fallback: webhook.withURLKey("webhook_url"),
	}
}

func emailURL(cfg *entities.NotificationConfig) (string, error) {
	if u := cfg.ConfigString("url"); u != "" {
		return u, nil
	}
	host := cfg.ConfigString("host")
	to := cfg.ConfigString("to")
	from := cfg.ConfigString("from")
	if host == "" || to == "" || from == "" {
		return "", fmt.Errorf("email requires url, or host, from and to")
	}

	port := "587"
	switch v := cfg.Config["port"].(type) {
	case string:
		if v != "" {
			port = v
		}
	case float64:
		port = strconv.Itoa(int(v))
	}

	u := url.URL{Scheme: "smtp", Host: net.JoinHostPort(host, port), Path: "/"}
	if user := cfg.ConfigString("username"); user != "" {
		u.User = url.UserPassword(user, cfg.ConfigString("password"))
	}
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
