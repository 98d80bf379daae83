// Package app assembles the notifier from settings: channel transport, REST
// fetcher, effect capabilities, the notification service and the HTTP API.
package app

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mainthub/notifier/internal/alertsound"
	"github.com/mainthub/notifier/internal/api"
	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/httpclient"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/mqtt"
	"github.com/mainthub/notifier/internal/notification"
	"github.com/mainthub/notifier/internal/observability"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// Options are the process-level choices that do not live in config.yaml.
type Options struct {
	Build        *buildinfo.Context
	SoundCommand string    // external player, e.g. "aplay -q"; empty rings the terminal bell
	SoundOut     io.Writer // bell output; nil disables sound without a command
	Offline      bool      // skip the channel transport
	Router       notification.ActionRouter
	Clock        notification.Clock
	Logger       logger.Logger
	HTTPClient   http.RoundTripper // overrides the REST transport, used by tests
}

// App owns the long-lived components of one notifier process.
type App struct {
	Service *notification.Service
	Metrics *observability.Metrics
	Push    *notification.PushNotifier
	Player  *alertsound.Player

	settings *conf.Settings
	log      logger.Logger

	mu      sync.Mutex
	running bool
}

// New wires every component described by settings. Nothing runs until Run.
func New(settings *conf.Settings, opts Options) (*App, error) {
	if settings == nil {
		return nil, errors.Newf("settings are required").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}

	log := opts.Logger
	if log == nil {
		log = logger.Global().Module("app")
	}
	a := &App{settings: settings, log: log}

	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		a.Metrics = m
	}
	var notifMetrics *metrics.NotificationMetrics
	if a.Metrics != nil {
		notifMetrics = a.Metrics.Notification
	}

	fetcher, err := a.newFetcher(opts, notifMetrics)
	if err != nil {
		return nil, err
	}

	var transport notification.Transport
	if !opts.Offline {
		transport, err = NewTransport(settings, log.Module("channel"))
		if err != nil {
			return nil, err
		}
	}

	a.Player = alertsound.NewPlayer(opts.SoundCommand, opts.SoundOut, log.Module("sound"))
	caps := notification.Capabilities{Sound: a.Player}

	if settings.Push.Enabled {
		push, err := notification.NewPushNotifier(notification.PushConfig{
			URLs:    settings.Push.URLs,
			Timeout: settings.Push.Timeout,
		}, opts.Clock, log, notifMetrics)
		if err != nil {
			return nil, err
		}
		a.Push = push
		caps.Desktop = push
	}

	router := opts.Router
	if router == nil {
		router = LogRouter(log.Module("actions"))
	}

	a.Service = notification.NewService(ServiceConfig(settings), notification.Deps{
		Transport:    transport,
		Fetcher:      fetcher,
		Capabilities: caps,
		Router:       router,
		Clock:        opts.Clock,
		Logger:       log.Module("notification"),
		Metrics:      a.Metrics,
	})
	return a, nil
}

// newFetcher returns nil when no user or backend is configured; the service
// then runs on demo data.
func (a *App) newFetcher(opts Options, m *metrics.NotificationMetrics) (notification.Fetcher, error) {
	s := a.settings
	if s.Client.UserID == "" || s.API.BaseURL == "" {
		return nil, nil
	}

	client, err := httpclient.New(&httpclient.Config{
		BaseURL:        s.API.BaseURL,
		DefaultTimeout: s.API.Timeout,
		UserAgent:      opts.Build.UserAgent(),
		Transport:      opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	if a.Metrics != nil {
		httpMetrics := a.Metrics.HTTP
		client.SetAfterResponseHook(func(req *http.Request, resp *http.Response, _ error, d time.Duration) {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			httpMetrics.RecordBackendRequest(req.Method, status, d)
		})
	}

	normalizer := notification.NewNormalizer(notification.NormalizeOptions{Clock: opts.Clock})
	return notification.NewHTTPFetcher(client, normalizer, a.log.Module("fetch"), m), nil
}

// NewTransport builds the channel transport selected by channel.transport.
func NewTransport(settings *conf.Settings, log logger.Logger) (notification.Transport, error) {
	ch := settings.Channel
	switch strings.ToLower(ch.Transport) {
	case "", conf.TransportWebsocket:
		return notification.NewWebSocketTransport(ch.URL, ch.HandshakeTimeout), nil
	case conf.TransportMQTT:
		cfg := mqtt.DefaultConfig()
		cfg.Broker = ch.MQTT.Broker
		cfg.ClientID = ch.MQTT.ClientID
		cfg.Username = ch.MQTT.Username
		cfg.Password = ch.MQTT.Password
		if ch.MQTT.TopicPrefix != "" {
			cfg.TopicPrefix = ch.MQTT.TopicPrefix
		}
		cfg.QoS = byte(ch.MQTT.QoS)
		if ch.HandshakeTimeout > 0 {
			cfg.ConnectTimeout = ch.HandshakeTimeout
		}
		t, err := mqtt.NewTransport(cfg, settings.Client.UserID, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, errors.Newf("unsupported channel transport %q", ch.Transport).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// ServiceConfig maps settings onto the notification service configuration.
func ServiceConfig(settings *conf.Settings) notification.Config {
	r := settings.Channel.Reconnect
	return notification.Config{
		UserID:      settings.Client.UserID,
		Role:        settings.Client.Role,
		Preferences: PreferencesFrom(settings.Preferences, settings.Client.Role),
		Reconnect: notification.ReconnectPolicy{
			Delay:      r.Delay,
			Multiplier: r.Multiplier,
			MaxDelay:   r.MaxDelay,
			MaxRetries: r.MaxRetries,
		},
		Floating: notification.PresenterConfig{
			MaxVisible:    settings.Floating.MaxVisible,
			ShownTTL:      settings.Floating.ShownTTL,
			EnterDuration: settings.Floating.EnterDuration,
		},
		SendRate:  settings.Send.RatePerSecond,
		SendBurst: settings.Send.Burst,
	}
}

// PreferencesFrom converts configured preferences for the dispatcher.
func PreferencesFrom(p conf.PreferenceSettings, role string) notification.Preferences {
	return notification.Preferences{
		Sound:     p.Sound,
		Vibration: p.Vibration,
		Desktop:   p.Desktop,
		QuietMode: p.QuietMode,
		WorkingHours: notification.WorkingHours{
			Start: p.WorkingHours.Start,
			End:   p.WorkingHours.End,
		},
		Role: role,
	}
}

// LogRouter is the default action router: headless clients have no screens
// to navigate to, so triggered actions are only logged.
func LogRouter(log logger.Logger) notification.ActionRouter {
	return notification.ActionRouterFunc(func(_ context.Context, rec *notification.Record, action notification.Action) error {
		log.Info("notification action triggered",
			logger.String("id", rec.ID),
			logger.String("action", action.ID),
			logger.String("type", string(rec.Type)))
		return nil
	})
}

// Run starts the service, the push forwarder and, when enabled, the HTTP API,
// then blocks until ctx is cancelled or the API fails. Everything is stopped
// before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.Newf("notifier is already running").
			Component("app").
			Category(errors.CategoryState).
			Build()
	}
	a.running = true
	settings := a.settings
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	if a.Push != nil {
		a.Push.Start(gctx)
	}
	defer a.Close()

	if err := a.Service.Start(gctx); err != nil {
		return err
	}
	a.log.Info("notifier started",
		logger.Bool("connected", a.Service.IsConnected()),
		logger.Bool("using_real_data", a.Service.UsingRealData()))

	if settings.WebServer.Enabled {
		server, err := api.New(settings, a.Service,
			api.WithLogger(a.log.Module("api")),
			api.WithMetrics(a.Metrics))
		if err != nil {
			return err
		}
		g.Go(func() error { return server.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	a.log.Info("notifier stopping")
	return err
}

// ApplySettings applies a reloaded config. Only delivery preferences change at
// runtime; transport and listener changes need a restart.
func (a *App) ApplySettings(settings *conf.Settings) {
	if settings == nil {
		return
	}
	a.mu.Lock()
	old := a.settings
	a.settings = settings
	a.mu.Unlock()

	a.Service.SetPreferences(PreferencesFrom(settings.Preferences, settings.Client.Role))

	if old.Channel.Transport != settings.Channel.Transport ||
		old.Channel.URL != settings.Channel.URL ||
		old.WebServer.Listen != settings.WebServer.Listen {
		a.log.Warn("channel or listener settings changed, restart to apply")
	}
	a.log.Info("preferences reloaded",
		logger.Bool("quiet_mode", settings.Preferences.QuietMode),
		logger.Bool("sound", settings.Preferences.Sound))
}

// Close stops the service and releases effect resources. Safe to call twice.
func (a *App) Close() {
	a.Service.Stop()
	if a.Push != nil {
		a.Push.Close()
	}
	if a.Player != nil {
		if err := a.Player.Close(); err != nil {
			a.log.Debug("failed to remove tone files", logger.Error(err))
		}
	}
}
