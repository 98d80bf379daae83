package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) IsEnabled() bool { return true }
func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func TestBuildDefaults(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderFluentFields(t *testing.T) {
	t.Parallel()

	ee := Newf("dial %s failed", "ws://host").
		Component("notification").
		Category(CategoryTransport).
		Priority("bogus").
		Context("attempt", 3).
		NetworkContext("wss://host/ws?token=abc", 0).
		Build()

	assert.Equal(t, "notification", ee.GetComponent())
	assert.Equal(t, "transport", ee.GetCategory())
	assert.Equal(t, PriorityMedium, ee.GetPriority(), "invalid priority falls back to medium")

	ctx := ee.GetContext()
	assert.Equal(t, 3, ctx["attempt"])
	assert.Equal(t, "websocket-endpoint", ctx["url_category"])

	ctx["attempt"] = 99
	assert.Equal(t, 3, ee.GetContext()["attempt"], "context copy must not alias")
}

func TestCategoryDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"connection message", fmt.Errorf("connection refused"), CategoryNetwork},
		{"invalid message", fmt.Errorf("invalid priority"), CategoryValidation},
		{"wrapped enhanced", fmt.Errorf("outer: %w", Newf("x").Category(CategoryFetch).Build()), CategoryFetch},
		{"plain", fmt.Errorf("boom"), CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.err).Build().Category)
		})
	}
}

func TestIsMatchesByCategory(t *testing.T) {
	t.Parallel()

	sentinel := Newf("not found").Category(CategoryNotFound).Build()
	other := Newf("record 42 not found").Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup: %w", other)

	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsCategory(wrapped, CategoryPayload))
}

func TestTelemetryReporterReceivesBuiltErrors(t *testing.T) {
	// Not parallel: swaps the global reporter.
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("fetch failed").Category(CategoryFetch).Build()

	require.Len(t, rec.reported, 1)
	assert.Same(t, ee, rec.reported[0])
	assert.True(t, ee.IsReported())
}

func TestBasicURLScrub(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Error at https://api.example.com?[REDACTED]",
		basicURLScrub("Error at https://api.example.com?api_key=secret123&token=abc"))
	assert.Contains(t, basicURLScrub("Config error: api_key=secret123 is invalid"), "[API_KEY_REDACTED]")
	assert.NotContains(t, basicURLScrub("auth for user_id=42 failed"), "42")
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Component("notification").Category(CategoryFetch).Context("operation", "reload_notifications").Build()
	assert.Equal(t, "Notification Fetch Error Reload Notifications", generateErrorTitle(ee))
}
