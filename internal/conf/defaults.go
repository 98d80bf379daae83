package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("client.userid", "")
	viper.SetDefault("client.role", "")

	viper.SetDefault("channel.transport", TransportWebsocket)
	viper.SetDefault("channel.url", "ws://localhost:8089/ws/notifications")
	viper.SetDefault("channel.handshaketimeout", 10*time.Second)
	viper.SetDefault("channel.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("channel.mqtt.clientid", "")
	viper.SetDefault("channel.mqtt.topicprefix", "mainthub/notifications")
	viper.SetDefault("channel.mqtt.qos", 1)
	viper.SetDefault("channel.reconnect.delay", 5*time.Second)
	viper.SetDefault("channel.reconnect.multiplier", 1.0)
	viper.SetDefault("channel.reconnect.maxdelay", 5*time.Minute)
	viper.SetDefault("channel.reconnect.maxretries", 0)

	viper.SetDefault("api.baseurl", "http://localhost:8089/api")
	viper.SetDefault("api.timeout", 15*time.Second)

	viper.SetDefault("preferences.sound", true)
	viper.SetDefault("preferences.vibration", true)
	viper.SetDefault("preferences.desktop", true)
	viper.SetDefault("preferences.quietmode", false)
	viper.SetDefault("preferences.workinghours.start", "08:00")
	viper.SetDefault("preferences.workinghours.end", "18:00")

	viper.SetDefault("floating.maxvisible", 5)
	viper.SetDefault("floating.shownttl", 30*time.Minute)
	viper.SetDefault("floating.enterduration", 300*time.Millisecond)

	viper.SetDefault("send.ratepersecond", 2.0)
	viper.SetDefault("send.burst", 5)

	viper.SetDefault("push.enabled", false)
	viper.SetDefault("push.urls", []string{})
	viper.SetDefault("push.timeout", 10*time.Second)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", "127.0.0.1:8090")

	viper.SetDefault("metrics.enabled", true)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("list.locale", "fr")
	viper.SetDefault("list.perpage", 10)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/notifier.log")
	viper.SetDefault("logging.file_output.level", "debug")
}
