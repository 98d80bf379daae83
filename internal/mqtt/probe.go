package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/mainthub/notifier/internal/logger"
)

// ProbeResult represents the outcome of one probe stage
type ProbeResult struct {
	Success   bool   `json:"success"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	State     string `json:"state"`     // completed, failed, timeout, skipped
	Timestamp string `json:"timestamp"` // RFC3339
}

// ProbeStage represents a stage in the broker probe
type ProbeStage int

const (
	DNSResolution ProbeStage = iota
	TCPConnection
	MQTTSubscription
	MessagePublish
)

// String returns the string representation of a probe stage
func (s ProbeStage) String() string {
	switch s {
	case DNSResolution:
		return "DNS Resolution"
	case TCPConnection:
		return "TCP Connection"
	case MQTTSubscription:
		return "MQTT Subscription"
	case MessagePublish:
		return "Message Publishing"
	default:
		return "Unknown Stage"
	}
}

// Timeout constants for the probe stages
const (
	dnsTimeout  = 5 * time.Second
	tcpTimeout  = 5 * time.Second
	mqttTimeout = 10 * time.Second
	pubTimeout  = 5 * time.Second
)

// probeMessage is published to the probe topic in the last stage.
type probeMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// Probe checks the broker stage by stage and streams one result per stage to
// results. It stops at the first failing stage and closes results when done.
func (t *Transport) Probe(ctx context.Context, results chan<- ProbeResult) {
	defer close(results)

	send := func(r ProbeResult) bool {
		if r.State == "" {
			switch {
			case r.Success:
				r.State = "completed"
			case strings.Contains(r.Error, "deadline exceeded") || strings.Contains(r.Error, "timeout"):
				r.State = "timeout"
			default:
				r.State = "failed"
			}
		}
		r.Timestamp = time.Now().Format(time.RFC3339)

		fields := []logger.Field{logger.String("stage", r.Stage), logger.String("state", r.State)}
		if r.Error != "" {
			fields = append(fields, logger.String("error", r.Error))
		}
		t.log.Info("mqtt probe", fields...)

		select {
		case results <- r:
		case <-ctx.Done():
		}
		return r.Success
	}

	u, err := url.Parse(t.cfg.Broker)
	if err != nil {
		send(ProbeResult{Stage: "Probe Setup", Message: "Invalid broker URL", Error: err.Error()})
		return
	}
	host := u.Hostname()

	if net.ParseIP(host) == nil {
		if !send(runStage(ctx, DNSResolution, dnsTimeout, func(ctx context.Context) error {
			return t.lookupHost(ctx, host)
		})) {
			return
		}
	} else {
		send(ProbeResult{Success: true, Stage: DNSResolution.String(), Message: "Broker is an IP address", State: "skipped"})
	}

	if !send(runStage(ctx, TCPConnection, tcpTimeout, func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", hostPort(u))
		if err != nil {
			return err
		}
		return conn.Close()
	})) {
		return
	}

	var sess *session
	if !send(runStage(ctx, MQTTSubscription, mqttTimeout, func(ctx context.Context) error {
		conn, err := t.Dial(ctx)
		if err != nil {
			return err
		}
		sess = conn.(*session)
		return nil
	})) {
		return
	}
	defer func() { _ = sess.Close() }()

	send(runStage(ctx, MessagePublish, pubTimeout, func(ctx context.Context) error {
		msg := probeMessage{Type: "PROBE", Timestamp: time.Now().Format(time.RFC3339)}
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return waitToken(ctx, sess.client.Publish(ProbeTopic(t.cfg.TopicPrefix), t.cfg.QoS, false, payload), pubTimeout)
	}))
}

// runStage executes a stage test with its own timeout.
func runStage(ctx context.Context, stage ProbeStage, timeout time.Duration, test func(context.Context) error) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := test(ctx); err != nil {
		return ProbeResult{
			Stage:   stage.String(),
			Message: fmt.Sprintf("Failed to perform %s", stage),
			Error:   logger.RedactSensitiveData(err.Error()),
		}
	}
	return ProbeResult{
		Success: true,
		Stage:   stage.String(),
		Message: fmt.Sprintf("Successfully completed %s", stage),
	}
}

// hostPort returns host:port of the broker, applying the scheme's default port.
func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	port := "1883"
	switch u.Scheme {
	case "ssl", "tls", "mqtts":
		port = "8883"
	case "ws":
		port = "80"
	case "wss":
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
