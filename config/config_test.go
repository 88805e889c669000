package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LdDl/mot-sentry/mot"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultMatchesParams(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	if diff := cmp.Diff(mot.DefaultParams(), cfg.Params()); diff != "" {
		t.Errorf("Default config differs from default params (-want +got):\n%s", diff)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentry.yaml")
	doc := `
tracking:
  idle_timeout: 4s
  assign_ids: true
  assigner:
    algorithm: greedy
scoring:
  decay: 0.95
  weapon_hold: 1500ms
detection:
  weapon_classes:
    43: KNIFE
identity:
  max_checks_per_frame: 5
audit:
  nats_url: nats://localhost:4222
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, cfg.Tracking.IdleTimeout.Std())
	assert.Equal(t, 75, cfg.Tracking.MaxMissedFrames)
	assert.Equal(t, map[int]string{43: "KNIFE"}, cfg.Detection.WeaponClasses)
	assert.Equal(t, "nats://localhost:4222", cfg.Audit.NATSURL)
	assert.Equal(t, "sentry.audit", cfg.Audit.NATSSubjectPrefix)

	params := cfg.Params()
	assert.Equal(t, 0.95, params.Track.Decay)
	assert.Equal(t, 1500*time.Millisecond, params.Registry.WeaponHold)
	assert.Equal(t, 5, params.Identity.MaxChecksPerFrame)
	assert.Equal(t, 2*time.Second, params.AlertCooldown)
	assert.True(t, params.Assigner.Enabled)
	assert.Equal(t, mot.MatchingAlgorithmGreedy, params.Assigner.Algorithm)
	assert.Equal(t, 0.3, params.Assigner.MinIoU)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":      "alert:\n  cooldown: soon\n",
		"decay too big":     "scoring:\n  decay: 1.5\n",
		"class overlap":     "detection:\n  person_classes: [43]\n",
		"no eviction":       "tracking:\n  max_missed_frames: 0\n  idle_timeout: 0s\n",
		"history too short": "tracking:\n  history_size: 10\n",
		"threshold at max":  "scoring:\n  alert_threshold: 100\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("scoring:\n  decay: 0\n"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestDurationRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Default().Alert)
	require.NoError(t, err)
	assert.Contains(t, string(out), "cooldown: 2s")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
