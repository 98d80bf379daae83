package alertsound

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

// Player implements notification.SoundPlayer. With a command configured
// (e.g. "paplay" or "aplay -q") it writes the tone to a temporary WAV file
// and runs the command with the file path appended; otherwise it rings the
// terminal bell once per beep.
type Player struct {
	command []string
	out     io.Writer
	log     logger.Logger

	mu      sync.Mutex
	tempDir string
}

// NewPlayer returns a player. An empty command selects the terminal bell on out.
func NewPlayer(command string, out io.Writer, log logger.Logger) *Player {
	if log == nil {
		log = logger.Global().Module("alertsound")
	}
	return &Player{command: strings.Fields(command), out: out, log: log}
}

// Available implements notification.SoundPlayer.
func (p *Player) Available() bool {
	if len(p.command) > 0 {
		_, err := exec.LookPath(p.command[0])
		return err == nil
	}
	return p.out != nil
}

// Play implements notification.SoundPlayer.
func (p *Player) Play(ctx context.Context, priority notification.Priority) error {
	if len(p.command) == 0 {
		return p.bell(ToneFor(priority))
	}

	path, err := p.toneFile(priority)
	if err != nil {
		return err
	}

	tone := ToneFor(priority)
	ctx, cancel := context.WithTimeout(ctx, tone.Duration()+5*time.Second)
	defer cancel()

	args := append(append([]string(nil), p.command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.New(err).
			Component("alertsound").
			Category(errors.CategoryEffect).
			Context("command", p.command[0]).
			Context("output", strings.TrimSpace(string(output))).
			Build()
	}
	p.log.Trace("alert tone played", logger.String("priority", string(priority)))
	return nil
}

func (p *Player) bell(t Tone) error {
	if p.out == nil {
		return nil
	}
	_, err := io.WriteString(p.out, strings.Repeat("\a", max(t.Beeps, 1)))
	return err
}

// toneFile writes the priority's WAV once per process and returns its path.
func (p *Player) toneFile(priority notification.Priority) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempDir == "" {
		dir, err := os.MkdirTemp("", "notifier-tones-")
		if err != nil {
			return "", errors.New(err).
				Component("alertsound").
				Category(errors.CategoryFileIO).
				Build()
		}
		p.tempDir = dir
	}

	path := filepath.Join(p.tempDir, strings.ToLower(string(priority))+".wav")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	data, err := WAV(priority)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", errors.New(err).
			Component("alertsound").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return path, nil
}

// Close removes the temporary tone files.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempDir == "" {
		return nil
	}
	err := os.RemoveAll(p.tempDir)
	p.tempDir = ""
	return err
}
