package alertsound

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthub/notifier/internal/notification"
)

func TestToneFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		priority  notification.Priority
		beeps     int
		frequency float64
	}{
		{notification.PriorityCritical, 3, 880},
		{notification.PriorityHigh, 2, 660},
		{notification.PriorityNormal, 1, 523},
		{notification.PriorityLow, 1, 440},
		{"URGENT", 1, 523},
	}

	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			t.Parallel()

			tone := ToneFor(tt.priority)
			assert.Equal(t, tt.beeps, tone.Beeps)
			assert.InDelta(t, tt.frequency, tone.Frequency, 0)
		})
	}
}

func TestToneDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 720*time.Millisecond, ToneFor(notification.PriorityCritical).Duration())
	assert.Equal(t, 200*time.Millisecond, ToneFor(notification.PriorityNormal).Duration())
	assert.Zero(t, Tone{}.Duration())
}

func TestRenderProducesDecodableWAV(t *testing.T) {
	t.Parallel()

	tone := ToneFor(notification.PriorityHigh)
	data, err := Render(tone)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, SampleRate, buf.Format.SampleRate)
	assert.Equal(t, NumChannels, buf.Format.NumChannels)
	assert.Len(t, buf.Data, samplesFor(tone.Duration()))

	peak := 0
	for _, s := range buf.Data {
		peak = max(peak, s, -s)
	}
	limit := float64(amplitude) // not an integer constant
	assert.Positive(t, peak)
	assert.LessOrEqual(t, peak, int(limit)+1)
}

func TestSynthesizeSilentGaps(t *testing.T) {
	t.Parallel()

	tone := Tone{Frequency: 1000, Beeps: 2, Beep: 10 * time.Millisecond, Gap: 10 * time.Millisecond}
	samples := synthesize(tone)
	require.Len(t, samples, samplesFor(30*time.Millisecond))

	beep := samplesFor(tone.Beep)
	gap := samples[beep : beep+samplesFor(tone.Gap)]
	for _, s := range gap {
		require.Zero(t, s)
	}
	assert.Zero(t, samples[0], "fade-in starts from silence")
}

func TestWAVCachesPerPriority(t *testing.T) {
	t.Parallel()

	first, err := WAV(notification.PriorityLow)
	require.NoError(t, err)
	second, err := WAV(notification.PriorityLow)
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0])

	unknown, err := WAV("UNKNOWN")
	require.NoError(t, err)
	normal, err := WAV(notification.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, normal, unknown)
}

func TestSeekableBuffer(t *testing.T) {
	t.Parallel()

	b := &seekableBuffer{}
	_, err := b.Write([]byte("hello world"))
	require.NoError(t, err)

	pos, err := b.Seek(0, 0)
	require.NoError(t, err)
	assert.Zero(t, pos)
	_, err = b.Write([]byte("J"))
	require.NoError(t, err)

	_, err = b.Seek(-5, 2)
	require.NoError(t, err)
	_, err = b.Write([]byte("W"))
	require.NoError(t, err)
	assert.Equal(t, "Jello World", string(b.Bytes()))

	_, err = b.Seek(-1, 0)
	require.Error(t, err)
}
