package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding maps an environment variable onto a viper key
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "NOTIFIER_DEBUG", validateEnvBool},

		{"client.userid", "NOTIFIER_USER_ID", nil},
		{"client.role", "NOTIFIER_ROLE", nil},

		{"channel.transport", "NOTIFIER_TRANSPORT", validateEnvTransport},
		{"channel.url", "NOTIFIER_CHANNEL_URL", validateEnvURL},
		{"channel.mqtt.broker", "NOTIFIER_MQTT_BROKER", validateEnvURL},
		{"channel.mqtt.username", "NOTIFIER_MQTT_USERNAME", nil},
		{"channel.mqtt.password", "NOTIFIER_MQTT_PASSWORD", nil},
		{"channel.mqtt.passwordfile", "NOTIFIER_MQTT_PASSWORD_FILE", nil},
		{"channel.mqtt.topicprefix", "NOTIFIER_MQTT_TOPIC_PREFIX", nil},
		{"channel.reconnect.delay", "NOTIFIER_RECONNECT_DELAY", validateEnvDuration},
		{"channel.reconnect.maxretries", "NOTIFIER_RECONNECT_MAX_RETRIES", validateEnvNonNegativeInt},

		{"api.baseurl", "NOTIFIER_API_URL", validateEnvURL},

		{"preferences.quietmode", "NOTIFIER_QUIET_MODE", validateEnvBool},

		{"webserver.listen", "NOTIFIER_LISTEN", nil},
		{"sentry.dsn", "NOTIFIER_SENTRY_DSN", nil},
		{"sentry.dsnfile", "NOTIFIER_SENTRY_DSN_FILE", nil},
		{"logging.default_level", "NOTIFIER_LOG_LEVEL", validateEnvLogLevel},
	}
}

// bindEnvVars binds every NOTIFIER_* variable and validates values that are set.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvTransport(value string) error {
	switch strings.ToLower(value) {
	case TransportWebsocket, TransportMQTT:
		return nil
	}
	return fmt.Errorf("must be %q or %q", TransportWebsocket, TransportMQTT)
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch value {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}
