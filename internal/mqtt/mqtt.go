// Package mqtt carries the notification channel over an MQTT broker. Each
// user listens on <prefix>/users/<userId>; outbound notifications are
// published to <prefix>/outbound.
package mqtt

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mainthub/notifier/internal/errors"
)

// TransportName identifies the MQTT channel in logs and metrics.
const TransportName = "mqtt"

// Config holds the configuration for the MQTT transport.
type Config struct {
	Broker      string
	ClientID    string // generated per session when empty
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	// InboundBuffer is the number of received messages held for the reader
	InboundBuffer int
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		TopicPrefix:       "mainthub",
		QoS:               1,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		InboundBuffer:     64,
	}
}

// withDefaults fills zero timeouts and buffers from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = d.DisconnectTimeout
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = d.InboundBuffer
	}
	c.TopicPrefix = strings.Trim(c.TopicPrefix, "/")
	return c
}

// Validate checks the broker URL, topic prefix and QoS.
func (c Config) Validate() error {
	u, err := url.Parse(c.Broker)
	if err != nil || u.Host == "" {
		return errors.Newf("invalid mqtt broker url %q", c.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return errors.Newf("unsupported mqtt broker scheme %q", u.Scheme).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.Trim(c.TopicPrefix, "/") == "" {
		return errors.Newf("mqtt topic prefix is required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return errors.Newf("mqtt topic prefix must not contain wildcards").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// InboundTopic is the topic a user's notifications are pushed to.
func InboundTopic(prefix, userID string) string {
	if userID == "" {
		return strings.Trim(prefix, "/") + "/broadcast"
	}
	return strings.Trim(prefix, "/") + "/users/" + userID
}

// OutboundTopic is the topic sent notifications are published to.
func OutboundTopic(prefix string) string {
	return strings.Trim(prefix, "/") + "/outbound"
}

// ProbeTopic receives the test message published by Probe.
func ProbeTopic(prefix string) string {
	return strings.Trim(prefix, "/") + "/probe"
}
