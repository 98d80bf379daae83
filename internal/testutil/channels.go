// Package testutil holds helpers shared by the notifier's package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeouts.
const (
	// DefaultTestTimeout bounds waits on goroutines, streams and timers
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for signals that should already be pending
	ShortTestTimeout = time.Second
)

// WaitForChannel waits for a signal or close on ch and fails after timeout.
func WaitForChannel[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}

// Receive returns the next value from ch. It fails when ch is closed or
// nothing arrives within timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed before a value arrived")
		return v
	case <-time.After(timeout):
		require.FailNow(t, "timed out waiting for a value")
	}
	var zero T
	return zero
}

// NoReceive asserts that nothing arrives on ch within wait.
func NoReceive[T any](t testing.TB, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			require.Failf(t, "unexpected value", "%v", v)
		}
	case <-time.After(wait):
	}
}
