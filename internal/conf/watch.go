package conf

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mainthub/notifier/internal/logger"
)

// Watch re-reads the config file whenever it is written and hands valid
// settings to onChange. Invalid edits are logged and ignored so the running
// settings stay in effect.
func Watch(log logger.Logger, onChange func(*Settings)) {
	if viper.ConfigFileUsed() == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		settingsMutex.Lock()
		settings, err := decodeSettings()
		if err == nil {
			settingsInstance = settings
		}
		settingsMutex.Unlock()

		if err != nil {
			log.Warn("ignoring invalid config change",
				logger.String("file", e.Name),
				logger.Error(err))
			return
		}

		log.Info("config reloaded", logger.String("file", e.Name))
		if onChange != nil {
			onChange(settings)
		}
	})
	viper.WatchConfig()
}
