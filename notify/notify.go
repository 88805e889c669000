// Package notify implements alert notifiers triggered by mot.AlertGate
package notify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultSoundPath is alert sound looked up in working directory
const DefaultSoundPath = "alert_sound.mp3"

// LogNotifier only logs alert. Useful for headless runs.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements mot.Notifier
func (n LogNotifier) Notify(context.Context) error {
	n.Logger.Warn().Msg("Red alert")
	return nil
}

// SoundNotifier plays sound file with external player: Player [Args...] SoundPath
type SoundNotifier struct {
	Player    string
	Args      []string
	SoundPath string
	Logger    zerolog.Logger
}

// Notify implements mot.Notifier. Missing sound file is an error.
func (n SoundNotifier) Notify(ctx context.Context) error {
	path := n.SoundPath
	if path == "" {
		path = DefaultSoundPath
	}
	if _, err := os.Stat(path); err != nil {
		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			abs = path
		}
		return errors.Wrapf(err, "Alert sound missing at %s", abs)
	}
	if n.Player == "" {
		return errors.New("Sound player is not configured")
	}
	n.Logger.Info().Str("sound", path).Msg("Triggering audio alert")
	args := make([]string, 0, len(n.Args)+1)
	args = append(args, n.Args...)
	args = append(args, path)
	out, err := exec.CommandContext(ctx, n.Player, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "Sound player '%s' failed: %s", n.Player, string(out))
	}
	return nil
}

// Multi notifies every notifier. Every one is attempted, the first error is returned.
type Multi []interface {
	Notify(ctx context.Context) error
}

// Notify implements mot.Notifier
func (m Multi) Notify(ctx context.Context) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
