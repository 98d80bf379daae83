// Package alertsound renders the per-priority alert tones as WAV and plays
// them through an external audio player or the terminal bell.
package alertsound

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/mainthub/notifier/internal/notification"
)

// WAV format of rendered tones
const (
	SampleRate  = 22050
	BitDepth    = 16
	NumChannels = 1

	wavFormatPCM = 1
	amplitude    = 0.6 * math.MaxInt16
	fadeDuration = 5 * time.Millisecond
)

// Tone describes the alert of one priority: Beeps pulses of Frequency Hz.
type Tone struct {
	Frequency float64
	Beeps     int
	Beep      time.Duration
	Gap       time.Duration
}

// Duration returns the total length of the tone.
func (t Tone) Duration() time.Duration {
	if t.Beeps <= 0 {
		return 0
	}
	return time.Duration(t.Beeps)*t.Beep + time.Duration(t.Beeps-1)*t.Gap
}

var tones = map[notification.Priority]Tone{
	notification.PriorityCritical: {Frequency: 880, Beeps: 3, Beep: 180 * time.Millisecond, Gap: 90 * time.Millisecond},
	notification.PriorityHigh:     {Frequency: 660, Beeps: 2, Beep: 150 * time.Millisecond, Gap: 100 * time.Millisecond},
	notification.PriorityNormal:   {Frequency: 523, Beeps: 1, Beep: 200 * time.Millisecond},
	notification.PriorityLow:      {Frequency: 440, Beeps: 1, Beep: 120 * time.Millisecond},
}

// ToneFor returns the tone of p; unknown priorities use the NORMAL tone.
func ToneFor(p notification.Priority) Tone {
	if t, ok := tones[p]; ok {
		return t
	}
	return tones[notification.PriorityNormal]
}

var (
	renderedMu sync.Mutex
	rendered   = make(map[notification.Priority][]byte)
)

// WAV returns the encoded tone of p. Results are cached per priority.
func WAV(p notification.Priority) ([]byte, error) {
	if _, ok := tones[p]; !ok {
		p = notification.PriorityNormal
	}

	renderedMu.Lock()
	defer renderedMu.Unlock()

	if data, ok := rendered[p]; ok {
		return data, nil
	}
	data, err := Render(ToneFor(p))
	if err != nil {
		return nil, err
	}
	rendered[p] = data
	return data, nil
}

// Render encodes t as a mono 16-bit PCM WAV.
func Render(t Tone) ([]byte, error) {
	buf := &seekableBuffer{}
	enc := wav.NewEncoder(buf, SampleRate, BitDepth, NumChannels, wavFormatPCM)

	samples := synthesize(t)
	if err := enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: SampleRate, NumChannels: NumChannels},
		SourceBitDepth: BitDepth,
	}); err != nil {
		return nil, fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV: %w", err)
	}
	return buf.Bytes(), nil
}

// synthesize renders the sine pulses with short linear fades to avoid clicks.
func synthesize(t Tone) []int {
	beepSamples := samplesFor(t.Beep)
	gapSamples := samplesFor(t.Gap)
	fade := min(samplesFor(fadeDuration), beepSamples/2)

	out := make([]int, 0, samplesFor(t.Duration()))
	for b := range t.Beeps {
		for i := range beepSamples {
			gain := 1.0
			switch {
			case fade > 0 && i < fade:
				gain = float64(i) / float64(fade)
			case fade > 0 && i >= beepSamples-fade:
				gain = float64(beepSamples-i) / float64(fade)
			}
			phase := 2 * math.Pi * t.Frequency * float64(i) / SampleRate
			out = append(out, int(amplitude*gain*math.Sin(phase)))
		}
		if b < t.Beeps-1 {
			out = append(out, make([]int, gapSamples)...)
		}
	}
	return out
}

func samplesFor(d time.Duration) int {
	return int(d.Seconds() * SampleRate)
}

// seekableBuffer extends bytes.Buffer with Seek so the WAV encoder can patch
// its header sizes in memory.
type seekableBuffer struct {
	buf []byte
	pos int
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekableBuffer) Bytes() []byte {
	return bytes.Clone(s.buf)
}
