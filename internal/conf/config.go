// Package conf loads notifier settings from config.yaml, NOTIFIER_* environment
// variables and command-line flags through viper.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/secrets"
)

// ClientSettings identifies the operator this client acts for.
type ClientSettings struct {
	UserID string `yaml:"userid"` // empty disables the AUTH handshake and the REST fetch
	Role   string `yaml:"role"`   // operator role, matched against record target roles
}

// MQTTSettings configures the MQTT channel transport.
type MQTTSettings struct {
	Broker       string `yaml:"broker"`       // tcp://host:1883, ssl://host:8883
	ClientID     string `yaml:"clientid"`     // generated when empty
	Username     string `yaml:"username"`     // optional
	Password     string `yaml:"password"`     // optional, ${VAR} references are expanded
	PasswordFile string `yaml:"passwordfile"` // e.g. /run/secrets/mqtt_password; wins over Password
	TopicPrefix  string `yaml:"topicprefix"`  // topics are <prefix>/users/<userId> and <prefix>/outbound
	QoS          int    `yaml:"qos"`          // 0, 1 or 2
}

// ReconnectSettings controls the channel reconnect policy.
type ReconnectSettings struct {
	Delay      time.Duration `yaml:"delay"`      // first retry delay
	Multiplier float64       `yaml:"multiplier"` // 1 keeps the delay fixed
	MaxDelay   time.Duration `yaml:"maxdelay"`   // upper bound for backoff
	MaxRetries int           `yaml:"maxretries"` // 0 retries forever
}

// ChannelSettings configures the push channel.
type ChannelSettings struct {
	Transport        string            `yaml:"transport"`        // websocket or mqtt
	URL              string            `yaml:"url"`              // websocket endpoint
	HandshakeTimeout time.Duration     `yaml:"handshaketimeout"` // dial timeout
	MQTT             MQTTSettings      `yaml:"mqtt"`
	Reconnect        ReconnectSettings `yaml:"reconnect"`
}

// APISettings configures the REST backend used for full reloads.
type APISettings struct {
	BaseURL string        `yaml:"baseurl"` // e.g. http://localhost:8089/api
	Timeout time.Duration `yaml:"timeout"`
}

// WorkingHours is a daily HH:MM window; End before Start wraps midnight.
type WorkingHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// PreferenceSettings are the operator's delivery preferences.
type PreferenceSettings struct {
	Sound        bool         `yaml:"sound"`
	Vibration    bool         `yaml:"vibration"`
	Desktop      bool         `yaml:"desktop"`
	QuietMode    bool         `yaml:"quietmode"`
	WorkingHours WorkingHours `yaml:"workinghours"`
}

// FloatingSettings configures the toast presenter.
type FloatingSettings struct {
	MaxVisible    int           `yaml:"maxvisible"`    // concurrent toasts
	ShownTTL      time.Duration `yaml:"shownttl"`      // how long an id stays in the already-shown set
	EnterDuration time.Duration `yaml:"enterduration"` // entrance transition length
}

// SendSettings rate limits outbound notifications.
type SendSettings struct {
	RatePerSecond float64 `yaml:"ratepersecond"`
	Burst         int     `yaml:"burst"`
}

// PushSettings forwards desktop notifications to shoutrrr services.
type PushSettings struct {
	Enabled bool          `yaml:"enabled"`
	URLs    []string      `yaml:"urls"`
	Timeout time.Duration `yaml:"timeout"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	DSNFile     string `yaml:"dsnfile"`
	Environment string `yaml:"environment"`
}

// ListSettings configures list screens.
type ListSettings struct {
	Locale  string `yaml:"locale"`  // BCP 47 tag used for collation
	PerPage int    `yaml:"perpage"` // default page size
}

// Settings contains all configuration options for the notifier.
type Settings struct {
	Debug bool `yaml:"debug"`

	Client      ClientSettings       `yaml:"client"`
	Channel     ChannelSettings      `yaml:"channel"`
	API         APISettings          `yaml:"api"`
	Preferences PreferenceSettings   `yaml:"preferences"`
	Floating    FloatingSettings     `yaml:"floating"`
	Send        SendSettings         `yaml:"send"`
	Push        PushSettings         `yaml:"push"`
	WebServer   WebServerSettings    `yaml:"webserver"`
	Metrics     MetricsSettings      `yaml:"metrics"`
	Sentry      SentrySettings       `yaml:"sentry"`
	List        ListSettings         `yaml:"list"`
	Logging     logger.LoggingConfig `yaml:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from file, environment and bound flags, validates
// it and stores the result as the current settings. A missing config file is
// not an error; defaults apply.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := decodeSettings()
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

// decodeSettings unmarshals the current viper state and validates it.
func decodeSettings() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_settings").
			Build()
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// resolveSecrets replaces credential fields with their file or environment
// values so the rest of the program only sees plain strings.
func resolveSecrets(s *Settings) error {
	var err error
	if s.Channel.MQTT.Password, err = secrets.Resolve(s.Channel.MQTT.PasswordFile, s.Channel.MQTT.Password); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Context("setting", "channel.mqtt.password").Build()
	}
	if s.Sentry.DSN, err = secrets.Resolve(s.Sentry.DSNFile, s.Sentry.DSN); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Context("setting", "sentry.dsn").Build()
	}
	for i, u := range s.Push.URLs {
		if s.Push.URLs[i], err = secrets.ExpandString(u); err != nil {
			return errors.New(err).Component("conf").Category(errors.CategoryConfiguration).Context("setting", "push.urls").Build()
		}
	}
	return nil
}

func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "read_config").
			Build()
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "notifier"))
	}
	return append(paths, "/etc/notifier")
}

// ConfigFileUsed returns the path of the loaded config file, or "" when running on defaults.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings, loading them on first use.
func Setting() *Settings {
	if s := GetSettings(); s != nil {
		return s
	}
	s, err := Load("")
	if err != nil {
		logger.Global().Module("conf").Error("failed to load settings", logger.Error(err))
		return nil
	}
	return s
}
