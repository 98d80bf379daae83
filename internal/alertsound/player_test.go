package alertsound

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

var _ notification.SoundPlayer = (*Player)(nil)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(&bytes.Buffer{}, logger.LogLevelError, nil)
}

func TestBellPlayer(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	p := NewPlayer("", out, quietLogger())
	assert.True(t, p.Available())

	require.NoError(t, p.Play(t.Context(), notification.PriorityCritical))
	require.NoError(t, p.Play(t.Context(), notification.PriorityLow))
	assert.Equal(t, "\a\a\a\a", out.String())
}

func TestBellPlayerWithoutOutput(t *testing.T) {
	t.Parallel()

	p := NewPlayer("", nil, quietLogger())
	assert.False(t, p.Available())
	require.NoError(t, p.Play(t.Context(), notification.PriorityHigh))
}

func TestCommandPlayerMissingBinary(t *testing.T) {
	t.Parallel()

	p := NewPlayer("definitely-not-an-audio-player-xyz -q", nil, quietLogger())
	assert.False(t, p.Available())
	t.Cleanup(func() { _ = p.Close() })

	err := p.Play(t.Context(), notification.PriorityNormal)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEffect))
}

func TestCommandPlayerWritesToneFile(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	marker := filepath.Join(t.TempDir(), "played")
	p := NewPlayer("/bin/sh", nil, quietLogger())
	// the tone path is appended as the last argument, which sh sees as $0
	p.command = []string{"/bin/sh", "-c", `cp "$0" ` + marker}

	require.NoError(t, p.Play(context.Background(), notification.PriorityHigh))

	played, err := os.ReadFile(marker)
	require.NoError(t, err)
	want, err := WAV(notification.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, want, played)

	dir := p.tempDir
	require.NoError(t, p.Close())
	assert.NoDirExists(t, dir)
	require.NoError(t, p.Close())
}
