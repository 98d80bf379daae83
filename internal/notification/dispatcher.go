package notification

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/observability/metrics"
)

// Suppression reasons
const (
	ReasonQuietHours   = "quiet_hours"
	ReasonRoleMismatch = "role_mismatch"
)

// WorkingHours is a daily window in HH:MM; an End before Start wraps midnight
// and Start equal to End covers the whole day.
type WorkingHours struct {
	Start string
	End   string
}

// Contains reports whether t falls inside the window. A window that fails to
// parse contains every instant.
func (w WorkingHours) Contains(t time.Time) bool {
	start, ok1 := parseClock(w.Start)
	end, ok2 := parseClock(w.End)
	if !ok1 || !ok2 || start == end {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// Preferences are the operator's delivery settings.
type Preferences struct {
	Sound        bool
	Vibration    bool
	Desktop      bool
	QuietMode    bool
	WorkingHours WorkingHours
	Role         string
}

// Decision is the outcome of dispatching one record.
type Decision struct {
	Admitted bool
	Reason   string // set when suppressed
	Profile  EffectProfile
	Effects  []string // effects that fired
}

// Dispatcher decides admission and fires presentation effects.
type Dispatcher struct {
	mu         sync.RWMutex
	prefs      Preferences
	caps       Capabilities
	clock      Clock
	log        logger.Logger
	metrics    *metrics.NotificationMetrics
	permission Permission
	initOnce   sync.Once
}

// NewDispatcher creates a Dispatcher. Desktop delivery stays off until Init
// resolves the permission.
func NewDispatcher(prefs Preferences, caps Capabilities, clock Clock, log logger.Logger, m *metrics.NotificationMetrics) *Dispatcher {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logger.Global().Module("notification")
	}
	return &Dispatcher{
		prefs:      prefs,
		caps:       caps,
		clock:      clock,
		log:        log.Module("dispatcher"),
		metrics:    m,
		permission: PermissionDefault,
	}
}

// Init requests the desktop permission once per session when it has not been
// decided yet. A denial disables desktop delivery without further requests.
func (d *Dispatcher) Init(ctx context.Context) Permission {
	d.initOnce.Do(func() {
		desktop := d.caps.Desktop
		if desktop == nil || !desktop.Available() {
			d.setPermission(PermissionDenied)
			return
		}

		perm := desktop.Permission()
		if perm == PermissionDefault {
			var err error
			perm, err = desktop.RequestPermission(ctx)
			if err != nil {
				d.log.Warn("desktop notification permission request failed", logger.Error(
					errors.New(err).
						Component("notification").
						Category(errors.CategoryPermission).
						Build()))
				perm = PermissionDenied
			}
		}
		if perm != PermissionGranted {
			d.log.Info("desktop notifications disabled for this session", logger.String("permission", string(perm)))
		}
		d.setPermission(perm)
	})
	return d.DesktopPermission()
}

func (d *Dispatcher) setPermission(p Permission) {
	d.mu.Lock()
	d.permission = p
	d.mu.Unlock()
}

// DesktopPermission returns the resolved desktop permission.
func (d *Dispatcher) DesktopPermission() Permission {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.permission
}

// SetPreferences swaps the preferences used for subsequent dispatches.
func (d *Dispatcher) SetPreferences(p Preferences) {
	d.mu.Lock()
	d.prefs = p
	d.mu.Unlock()
}

// Preferences returns the current preferences.
func (d *Dispatcher) Preferences() Preferences {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prefs
}

// Admit decides whether rec enters the store at time now. It fires nothing.
func (d *Dispatcher) Admit(rec *Record, now time.Time) Decision {
	prefs := d.Preferences()
	decision := Decision{Admitted: true, Profile: EffectProfileFor(rec.Priority)}

	if prefs.QuietMode && rec.Priority != PriorityCritical && !prefs.WorkingHours.Contains(now) {
		decision.Admitted = false
		decision.Reason = ReasonQuietHours
		return decision
	}

	if roles := rec.TargetRoles(); len(roles) > 0 && prefs.Role != "" {
		match := slices.ContainsFunc(roles, func(r string) bool {
			return strings.EqualFold(r, prefs.Role)
		})
		if !match {
			decision.Admitted = false
			decision.Reason = ReasonRoleMismatch
		}
	}
	return decision
}

// Dispatch admits rec and, when admitted, fires the effects enabled by the
// preferences. Effect failures are logged and never surface to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *Record) Decision {
	decision := d.Admit(rec, d.clock.Now())
	if !decision.Admitted {
		d.metrics.RecordSuppressed(decision.Reason)
		d.log.Debug("notification suppressed",
			logger.String("id", rec.ID),
			logger.String("priority", string(rec.Priority)),
			logger.String("reason", decision.Reason))
		return decision
	}
	d.metrics.RecordAdmitted(string(rec.Priority))

	prefs := d.Preferences()
	profile := decision.Profile

	if profile.Sound && prefs.Sound && d.caps.Sound != nil && d.caps.Sound.Available() {
		d.fire(EffectSound, rec, &decision, func() error {
			return d.caps.Sound.Play(ctx, rec.Priority)
		})
	}
	if len(profile.Vibration) > 0 && prefs.Vibration && d.caps.Vibrate != nil && d.caps.Vibrate.Available() {
		d.fire(EffectVibration, rec, &decision, func() error {
			return d.caps.Vibrate.Vibrate(ctx, profile.Vibration)
		})
	}
	if prefs.Desktop && d.caps.Desktop != nil && d.DesktopPermission() == PermissionGranted {
		d.fire(EffectDesktop, rec, &decision, func() error {
			return d.caps.Desktop.Notify(ctx, rec, profile)
		})
	}
	return decision
}

func (d *Dispatcher) fire(effect string, rec *Record, decision *Decision, fn func() error) {
	if err := fn(); err != nil {
		d.log.Warn("notification effect failed",
			logger.String("effect", effect),
			logger.String("id", rec.ID),
			logger.Error(errors.New(err).
				Component("notification").
				Category(errors.CategoryEffect).
				Context("effect", effect).
				Build()))
		return
	}
	decision.Effects = append(decision.Effects, effect)
	d.metrics.RecordEffect(effect, string(rec.Priority))
}
