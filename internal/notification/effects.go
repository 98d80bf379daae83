package notification

import (
	"context"
	"time"
)

// EffectProfile describes how a notification of a given priority is presented.
type EffectProfile struct {
	Sound              bool
	Vibration          []time.Duration // alternating on/off pulses; nil for none
	Timeout            time.Duration   // toast auto-dismiss; 0 never expires
	RequireInteraction bool
}

var effectProfiles = map[Priority]EffectProfile{
	PriorityCritical: {
		Sound: true,
		Vibration: []time.Duration{
			200 * time.Millisecond, 100 * time.Millisecond,
			200 * time.Millisecond, 100 * time.Millisecond,
			200 * time.Millisecond, 100 * time.Millisecond,
			400 * time.Millisecond,
		},
		Timeout:            0,
		RequireInteraction: true,
	},
	PriorityHigh: {
		Sound:     true,
		Vibration: []time.Duration{100 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond},
		Timeout:   10 * time.Second,
	},
	PriorityNormal: {
		Sound:     true,
		Vibration: []time.Duration{100 * time.Millisecond},
		Timeout:   5 * time.Second,
	},
	PriorityLow: {
		Timeout: 3 * time.Second,
	},
}

// EffectProfileFor returns the profile for p; unknown priorities get the NORMAL profile.
func EffectProfileFor(p Priority) EffectProfile {
	profile, ok := effectProfiles[p]
	if !ok {
		profile = effectProfiles[PriorityNormal]
	}
	profile.Vibration = append([]time.Duration(nil), profile.Vibration...)
	return profile
}

// Effect names used in decisions and metrics
const (
	EffectSound     = "sound"
	EffectVibration = "vibration"
	EffectDesktop   = "desktop"
)

// Permission is the state of the desktop notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// SoundPlayer plays the alert tone of a priority.
type SoundPlayer interface {
	Available() bool
	Play(ctx context.Context, priority Priority) error
}

// Vibrator runs a vibration pattern.
type Vibrator interface {
	Available() bool
	Vibrate(ctx context.Context, pattern []time.Duration) error
}

// DesktopNotifier shows system-level notifications outside the application.
type DesktopNotifier interface {
	Available() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Notify(ctx context.Context, rec *Record, profile EffectProfile) error
}

// Capabilities bundles the effect collaborators. Nil members are unavailable.
type Capabilities struct {
	Sound   SoundPlayer
	Vibrate Vibrator
	Desktop DesktopNotifier
}
