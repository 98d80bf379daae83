// Package telemetry provides opt-in, privacy-filtered error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
)

// DefaultFlushTimeout bounds how long Flush waits for queued events.
const DefaultFlushTimeout = 2 * time.Second

var sentryInitialized atomic.Bool

// InitSentry initializes the Sentry SDK and routes enhanced errors to it.
// It does nothing unless telemetry is explicitly enabled.
func InitSentry(settings conf.SentrySettings, info buildinfo.BuildInfo) error {
	return initSentry(settings, info, nil)
}

func initSentry(settings conf.SentrySettings, info buildinfo.BuildInfo, transport sentry.Transport) error {
	log := logger.Global().Module("telemetry")
	if !settings.Enabled {
		log.Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}
	if settings.DSN == "" && transport == nil {
		return errors.Newf("sentry is enabled but no dsn is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Transport:        transport,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "", // never leak the hostname
		Release:          fmt.Sprintf("notifier@%s", info.GetVersion()),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetContext("application", map[string]any{
			"name":       "notifier",
			"version":    info.GetVersion(),
			"build_date": info.GetBuildDate(),
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	log.Info("sentry telemetry initialized",
		logger.String("environment", settings.Environment),
		logger.String("version", info.GetVersion()))
	return nil
}

// IsInitialized reports whether Sentry reporting is active.
func IsInitialized() bool {
	return sentryInitialized.Load()
}

// Flush waits up to timeout for queued events and detaches the reporter.
func Flush(timeout time.Duration) bool {
	if !sentryInitialized.Load() {
		return true
	}
	return sentry.Flush(timeout)
}

// applyPrivacyFilters strips identifying data from an event before it leaves
// the process.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = logger.RedactSensitiveData(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = logger.RedactSensitiveData(event.Exception[i].Value)
	}
	return event
}
