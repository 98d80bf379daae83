package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

const (
	pushProviderName     = "shoutrrr"
	defaultPushQueueSize = 32
	defaultPushTimeout   = 10 * time.Second
)

// ErrPushQueueFull is returned when the forwarder cannot keep up.
var ErrPushQueueFull = errors.NewStd("push queue is full")

// pushSender is the part of shoutrrr's router the forwarder uses.
type pushSender interface {
	Send(message string, params *stypes.Params) []error
}

// PushConfig configures the shoutrrr forwarder.
type PushConfig struct {
	URLs      []string
	Timeout   time.Duration
	QueueSize int
	Breaker   CircuitBreakerConfig
}

// PushNotifier is a DesktopNotifier that forwards notifications to shoutrrr
// services (ntfy, gotify, telegram, ...). Deliveries run on a background
// worker behind a circuit breaker so a slow service never stalls dispatch.
type PushNotifier struct {
	sender  pushSender
	timeout time.Duration
	queue   chan pushJob
	breaker *CircuitBreaker
	log     logger.Logger
	metrics *metrics.NotificationMetrics

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type pushJob struct {
	title   string
	message string
}

// NewPushNotifier validates the service URLs and builds the shoutrrr router.
func NewPushNotifier(cfg PushConfig, clock Clock, l logger.Logger, m *metrics.NotificationMetrics) (*PushNotifier, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one push service url is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		// shoutrrr errors may echo the url including its token
		return nil, errors.Newf("invalid push service url: %s", logger.RedactSensitiveData(err.Error())).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPushTimeout
	}
	sender.Timeout = cfg.Timeout
	sender.SetLogger(log.New(io.Discard, "", 0))

	return newPushNotifier(sender, cfg, clock, l, m), nil
}

func newPushNotifier(sender pushSender, cfg PushConfig, clock Clock, l logger.Logger, m *metrics.NotificationMetrics) *PushNotifier {
	if l == nil {
		l = logger.Global().Module("notification")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultPushQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultPushTimeout
	}
	if cfg.Breaker == (CircuitBreakerConfig{}) {
		cfg.Breaker = DefaultCircuitBreakerConfig()
	}
	l = l.Module("push")
	return &PushNotifier{
		sender:  sender,
		timeout: cfg.Timeout,
		queue:   make(chan pushJob, cfg.QueueSize),
		breaker: NewCircuitBreaker(cfg.Breaker, pushProviderName, clock, l, m),
		log:     l,
		metrics: m,
	}
}

// Start launches the delivery worker.
func (p *PushNotifier) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Close stops the worker; queued deliveries are dropped.
func (p *PushNotifier) Close() {
	p.mu.Lock()
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Available implements DesktopNotifier.
func (p *PushNotifier) Available() bool { return p.sender != nil }

// Permission implements DesktopNotifier; configured services are always granted.
func (p *PushNotifier) Permission() Permission { return PermissionGranted }

// RequestPermission implements DesktopNotifier.
func (p *PushNotifier) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

// Notify implements DesktopNotifier by queueing the delivery.
func (p *PushNotifier) Notify(_ context.Context, rec *Record, profile EffectProfile) error {
	title := rec.Title
	if profile.RequireInteraction {
		title = "[" + string(rec.Priority) + "] " + title
	}
	job := pushJob{title: title, message: pushMessage(rec)}

	select {
	case p.queue <- job:
		return nil
	default:
		p.metrics.RecordDelivery(pushProviderName, "dropped", 0)
		return ErrPushQueueFull
	}
}

func pushMessage(rec *Record) string {
	var b strings.Builder
	b.WriteString(rec.Message)
	if rec.Project != "" {
		fmt.Fprintf(&b, "\n%s: %s", "Projet", rec.Project)
	}
	return b.String()
}

func (p *PushNotifier) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.deliver(ctx, job)
		}
	}
}

func (p *PushNotifier) deliver(ctx context.Context, job pushJob) {
	start := time.Now()
	err := p.breaker.Call(ctx, func(ctx context.Context) error {
		return p.send(ctx, job)
	})

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrTooManyProbes):
		status = "rejected"
	default:
		status = "error"
	}
	p.metrics.RecordDelivery(pushProviderName, status, time.Since(start))

	if err != nil {
		p.log.Warn("push delivery failed",
			logger.String("status", status),
			logger.Error(errors.New(err).
				Component("notification").
				Category(errors.CategoryEffect).
				Context("provider", pushProviderName).
				Build()))
	}
}

// send runs the blocking shoutrrr call so ctx can abandon it.
func (p *PushNotifier) send(ctx context.Context, job pushJob) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := stypes.Params{}
	if job.title != "" {
		params.SetTitle(job.title)
	}

	done := make(chan error, 1)
	go func() {
		var firstErr error
		for _, err := range p.sender.Send(job.message, &params) {
			if err != nil {
				firstErr = err
				break
			}
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.NewStd(logger.RedactSensitiveData(err.Error()))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
