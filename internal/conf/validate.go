package conf

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/mainthub/notifier/internal/errors"
)

const (
	TransportWebsocket = "websocket"
	TransportMQTT      = "mqtt"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ErrorCategory lets the error builder classify validation failures.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryValidation
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}
	add := func(err error) {
		if err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	add(validateChannelSettings(&settings.Channel))
	add(validateAPISettings(&settings.API))
	add(validatePreferenceSettings(&settings.Preferences))
	add(validateFloatingSettings(&settings.Floating))
	add(validateSendSettings(&settings.Send))
	add(validateWebServerSettings(&settings.WebServer))
	add(validatePushSettings(&settings.Push))

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateChannelSettings(settings *ChannelSettings) error {
	var errs []string

	settings.Transport = strings.ToLower(settings.Transport)
	switch settings.Transport {
	case TransportWebsocket:
		u, err := url.Parse(settings.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Sprintf("channel url must be a ws:// or wss:// URL, got %q", settings.URL))
		}
	case TransportMQTT:
		if settings.MQTT.Broker == "" {
			errs = append(errs, "channel mqtt broker is required for the mqtt transport")
		}
		if settings.MQTT.TopicPrefix == "" {
			errs = append(errs, "channel mqtt topic prefix is required for the mqtt transport")
		}
		if settings.MQTT.QoS < 0 || settings.MQTT.QoS > 2 {
			errs = append(errs, fmt.Sprintf("channel mqtt qos must be 0, 1 or 2, got %d", settings.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Sprintf("channel transport must be %q or %q, got %q", TransportWebsocket, TransportMQTT, settings.Transport))
	}

	r := settings.Reconnect
	if r.Delay <= 0 {
		errs = append(errs, "channel reconnect delay must be positive")
	}
	if r.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("channel reconnect multiplier must be >= 1, got %g", r.Multiplier))
	}
	if r.MaxDelay < r.Delay {
		errs = append(errs, "channel reconnect max delay must not be below the delay")
	}
	if r.MaxRetries < 0 {
		errs = append(errs, "channel reconnect max retries must not be negative")
	}

	return joinErrs(errs)
}

func validateAPISettings(settings *APISettings) error {
	if settings.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(settings.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api base url must be an http(s) URL, got %q", settings.BaseURL)
	}
	return nil
}

func validatePreferenceSettings(settings *PreferenceSettings) error {
	var errs []string
	if !clockPattern.MatchString(settings.WorkingHours.Start) {
		errs = append(errs, fmt.Sprintf("working hours start must be HH:MM, got %q", settings.WorkingHours.Start))
	}
	if !clockPattern.MatchString(settings.WorkingHours.End) {
		errs = append(errs, fmt.Sprintf("working hours end must be HH:MM, got %q", settings.WorkingHours.End))
	}
	return joinErrs(errs)
}

func validateFloatingSettings(settings *FloatingSettings) error {
	if settings.MaxVisible < 1 {
		return fmt.Errorf("floating max visible must be at least 1, got %d", settings.MaxVisible)
	}
	return nil
}

func validateSendSettings(settings *SendSettings) error {
	if settings.RatePerSecond <= 0 || settings.Burst < 1 {
		return fmt.Errorf("send rate must be positive with a burst of at least 1")
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("webserver listen address %q is invalid: %w", settings.Listen, err)
	}
	return nil
}

func validatePushSettings(settings *PushSettings) error {
	if settings.Enabled && len(settings.URLs) == 0 {
		return fmt.Errorf("push is enabled but no service urls are configured")
	}
	return nil
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.NewStd(strings.Join(errs, "; "))
}
