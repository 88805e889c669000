// Package config loads YAML configuration of the sentry pipeline
package config

import (
	"os"
	"time"

	"github.com/LdDl/mot-sentry/mot"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation error
var ErrInvalidConfig = errors.New("invalid config")

// Duration is time.Duration written as "1.5s" in YAML
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type System struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Debug   bool   `yaml:"debug"`
}

type Detection struct {
	PersonClasses []int `yaml:"person_classes"`
	// Class ID -> label. Replaces defaults as a whole when present.
	WeaponClasses       map[int]string `yaml:"weapon_classes"`
	ConfidenceThreshold float64        `yaml:"confidence_threshold"`
}

type Tracking struct {
	HistorySize         int      `yaml:"history_size"`
	VelocityHistorySize int      `yaml:"velocity_history_size"`
	MaxMissedFrames     int      `yaml:"max_missed_frames"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	KalmanDt            float64  `yaml:"kalman_dt"`
	SmoothCentroids     bool     `yaml:"smooth_centroids"`
	// Assign IDs to person detections which come without track_id
	AssignIDs bool     `yaml:"assign_ids"`
	Assigner  Assigner `yaml:"assigner"`
}

type Assigner struct {
	MaxDisappeared int     `yaml:"max_disappeared"`
	MinIoU         float64 `yaml:"min_iou"`
	HighThreshold  float64 `yaml:"high_threshold"`
	LowThreshold   float64 `yaml:"low_threshold"`
	// "hungarian" or "greedy"
	Algorithm string `yaml:"algorithm"`
}

type Behavior struct {
	LoiterTime        Duration `yaml:"loiter_time"`
	LoiterRadius      float64  `yaml:"loiter_radius"`
	LoiterMinSamples  int      `yaml:"loiter_min_samples"`
	PacingMinSamples  int      `yaml:"pacing_min_samples"`
	PacingMaxRatio    float64  `yaml:"pacing_max_ratio"`
	PacingMinDistance float64  `yaml:"pacing_min_distance"`
	WalkingSpeed      float64  `yaml:"walking_speed"`
	RunningSpeed      float64  `yaml:"running_speed"`
}

type Scoring struct {
	Loitering         float64  `yaml:"loitering"`
	Pacing            float64  `yaml:"pacing"`
	Weapon            float64  `yaml:"weapon"`
	Decay             float64  `yaml:"decay"`
	DecayReferenceFPS float64  `yaml:"decay_reference_fps"`
	RepeatWeight      float64  `yaml:"repeat_weight"`
	AlertThreshold    float64  `yaml:"alert_threshold"`
	WeaponHold        Duration `yaml:"weapon_hold"`
}

type Identity struct {
	MatchThreshold      float64  `yaml:"match_threshold"`
	MaxChecksPerFrame   int      `yaml:"max_checks_per_frame"`
	CheckIntervalFrames int64    `yaml:"check_interval_frames"`
	RecheckInterval     Duration `yaml:"recheck_interval"`
	CheckTimeout        Duration `yaml:"check_timeout"`
	BreakerThreshold    int      `yaml:"breaker_threshold"`
	BreakerCooldown     Duration `yaml:"breaker_cooldown"`
	// JSON lines of identity.Entry enrolled on start
	GalleryFile string `yaml:"gallery_file"`
}

type Alert struct {
	Cooldown   Duration `yaml:"cooldown"`
	SoundPath  string   `yaml:"sound_path"`
	Player     string   `yaml:"player"`
	PlayerArgs []string `yaml:"player_args"`
}

type Audit struct {
	LogDir            string `yaml:"log_dir"`
	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`
}

type Storage struct {
	// Empty path disables SQLite store
	Path string `yaml:"path"`
}

type Metrics struct {
	// Empty address disables metrics endpoint
	Addr string `yaml:"addr"`
}

// Config is root of YAML document
type Config struct {
	System    System    `yaml:"system"`
	Detection Detection `yaml:"detection"`
	Tracking  Tracking  `yaml:"tracking"`
	Behavior  Behavior  `yaml:"behavior"`
	Scoring   Scoring   `yaml:"scoring"`
	Identity  Identity  `yaml:"identity"`
	Alert     Alert     `yaml:"alert"`
	Audit     Audit     `yaml:"audit"`
	Storage   Storage   `yaml:"storage"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Default returns configuration equal to mot.DefaultParams plus service defaults
func Default() Config {
	p := mot.DefaultParams()
	weapons := make(map[int]string, len(p.Registry.WeaponLabels))
	for k, v := range p.Registry.WeaponLabels {
		weapons[k] = v
	}
	return Config{
		System: System{
			Name:    "mot-sentry",
			Version: "2.0.0",
		},
		Detection: Detection{
			PersonClasses:       append([]int(nil), p.Registry.PersonClasses...),
			WeaponClasses:       weapons,
			ConfidenceThreshold: 0.4,
		},
		Tracking: Tracking{
			HistorySize:         p.Track.HistorySize,
			VelocityHistorySize: p.Track.VelocityHistorySize,
			MaxMissedFrames:     p.Registry.MaxMissedFrames,
			IdleTimeout:         Duration(p.Registry.IdleTimeout),
			KalmanDt:            p.Track.KalmanDt,
			SmoothCentroids:     p.Track.SmoothCentroids,
			AssignIDs:           p.Assigner.Enabled,
			Assigner: Assigner{
				MaxDisappeared: p.Assigner.MaxDisappeared,
				MinIoU:         p.Assigner.MinIoU,
				HighThreshold:  p.Assigner.HighThreshold,
				LowThreshold:   p.Assigner.LowThreshold,
				Algorithm:      "hungarian",
			},
		},
		Behavior: Behavior{
			LoiterTime:        Duration(p.Behavior.LoiterTime),
			LoiterRadius:      p.Behavior.LoiterRadius,
			LoiterMinSamples:  p.Behavior.LoiterMinSamples,
			PacingMinSamples:  p.Behavior.PacingMinSamples,
			PacingMaxRatio:    p.Behavior.PacingMaxRatio,
			PacingMinDistance: p.Behavior.PacingMinDistance,
			WalkingSpeed:      p.Behavior.WalkingSpeed,
			RunningSpeed:      p.Behavior.RunningSpeed,
		},
		Scoring: Scoring{
			Loitering:         p.Behavior.ScoreLoitering,
			Pacing:            p.Behavior.ScorePacing,
			Weapon:            p.Registry.ScoreWeapon,
			Decay:             p.Track.Decay,
			DecayReferenceFPS: p.Track.DecayReferenceFPS,
			RepeatWeight:      p.Track.RepeatWeight,
			AlertThreshold:    p.Registry.SuspicionAlertThreshold,
			WeaponHold:        Duration(p.Registry.WeaponHold),
		},
		Identity: Identity{
			MatchThreshold:      p.Identity.MatchThreshold,
			MaxChecksPerFrame:   p.Identity.MaxChecksPerFrame,
			CheckIntervalFrames: p.Identity.CheckIntervalFrames,
			RecheckInterval:     Duration(p.Identity.RecheckInterval),
			CheckTimeout:        Duration(p.Identity.CheckTimeout),
			BreakerThreshold:    p.Identity.BreakerThreshold,
			BreakerCooldown:     Duration(p.Identity.BreakerCooldown),
		},
		Alert: Alert{
			Cooldown:  Duration(p.AlertCooldown),
			SoundPath: "alert_sound.mp3",
		},
		Audit: Audit{
			LogDir:            "logs",
			NATSSubjectPrefix: "sentry.audit",
		},
	}
}

// Load reads YAML file and overlays it onto Default
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "Can't read config '%s'", path)
	}
	return Parse(data)
}

// Parse overlays YAML document onto Default and validates result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	defaultWeapons := cfg.Detection.WeaponClasses
	// yaml.v3 merges into non-nil maps
	cfg.Detection.WeaponClasses = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "Can't parse config")
	}
	if cfg.Detection.WeaponClasses == nil {
		cfg.Detection.WeaponClasses = defaultWeapons
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}
	if len(c.Detection.PersonClasses) == 0 {
		return invalid("detection.person_classes is empty")
	}
	for _, personClass := range c.Detection.PersonClasses {
		if _, ok := c.Detection.WeaponClasses[personClass]; ok {
			return invalid("class %d is both person and weapon", personClass)
		}
	}
	if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
		return invalid("detection.confidence_threshold %v is out of [0, 1]", c.Detection.ConfidenceThreshold)
	}
	if c.Tracking.HistorySize < 2 || c.Tracking.VelocityHistorySize < 1 {
		return invalid("tracking history sizes must be positive (history_size >= 2)")
	}
	if c.Tracking.MaxMissedFrames < 0 || c.Tracking.IdleTimeout < 0 {
		return invalid("tracking eviction bounds must be non-negative")
	}
	if c.Tracking.MaxMissedFrames == 0 && c.Tracking.IdleTimeout == 0 {
		return invalid("either tracking.max_missed_frames or tracking.idle_timeout must be set")
	}
	if c.Tracking.KalmanDt <= 0 {
		return invalid("tracking.kalman_dt must be positive")
	}
	if _, err := mot.ParseMatchingAlgorithm(c.Tracking.Assigner.Algorithm); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Tracking.Assigner.LowThreshold < 0 || c.Tracking.Assigner.LowThreshold > c.Tracking.Assigner.HighThreshold || c.Tracking.Assigner.HighThreshold > 1 {
		return invalid("tracking.assigner thresholds must satisfy 0 <= low_threshold <= high_threshold <= 1")
	}
	if c.Tracking.Assigner.MaxDisappeared < 1 {
		return invalid("tracking.assigner.max_disappeared must be positive")
	}
	if c.Behavior.LoiterMinSamples > c.Tracking.HistorySize || c.Behavior.PacingMinSamples > c.Tracking.HistorySize {
		return invalid("behavior sample requirements exceed tracking.history_size %d", c.Tracking.HistorySize)
	}
	if c.Behavior.WalkingSpeed < 0 || c.Behavior.RunningSpeed < c.Behavior.WalkingSpeed {
		return invalid("behavior speeds must satisfy 0 <= walking_speed <= running_speed")
	}
	if c.Scoring.Decay <= 0 || c.Scoring.Decay > 1 {
		return invalid("scoring.decay %v is out of (0, 1]", c.Scoring.Decay)
	}
	if c.Scoring.AlertThreshold < 0 || c.Scoring.AlertThreshold >= mot.MaxSuspicionScore {
		return invalid("scoring.alert_threshold %v is out of [0, %v)", c.Scoring.AlertThreshold, mot.MaxSuspicionScore)
	}
	if c.Identity.MatchThreshold < -1 || c.Identity.MatchThreshold > 1 {
		return invalid("identity.match_threshold %v is out of [-1, 1]", c.Identity.MatchThreshold)
	}
	if c.Identity.MaxChecksPerFrame < 0 || c.Identity.CheckIntervalFrames < 1 {
		return invalid("identity.max_checks_per_frame must be non-negative and check_interval_frames positive")
	}
	if c.Identity.BreakerThreshold < 1 {
		return invalid("identity.breaker_threshold must be positive")
	}
	if c.Alert.Cooldown < 0 {
		return invalid("alert.cooldown must be non-negative")
	}
	if c.Audit.LogDir == "" {
		return invalid("audit.log_dir is empty")
	}
	return nil
}

// Params converts configuration to pipeline parameters
func (c Config) Params() mot.Params {
	p := mot.DefaultParams()

	p.Track.HistorySize = c.Tracking.HistorySize
	p.Track.VelocityHistorySize = c.Tracking.VelocityHistorySize
	p.Track.KalmanDt = c.Tracking.KalmanDt
	p.Track.SmoothCentroids = c.Tracking.SmoothCentroids
	p.Track.Decay = c.Scoring.Decay
	p.Track.DecayReferenceFPS = c.Scoring.DecayReferenceFPS
	p.Track.RepeatWeight = c.Scoring.RepeatWeight

	p.Behavior.LoiterTime = c.Behavior.LoiterTime.Std()
	p.Behavior.LoiterRadius = c.Behavior.LoiterRadius
	p.Behavior.LoiterMinSamples = c.Behavior.LoiterMinSamples
	p.Behavior.PacingMinSamples = c.Behavior.PacingMinSamples
	p.Behavior.PacingMaxRatio = c.Behavior.PacingMaxRatio
	p.Behavior.PacingMinDistance = c.Behavior.PacingMinDistance
	p.Behavior.WalkingSpeed = c.Behavior.WalkingSpeed
	p.Behavior.RunningSpeed = c.Behavior.RunningSpeed
	p.Behavior.ScoreLoitering = c.Scoring.Loitering
	p.Behavior.ScorePacing = c.Scoring.Pacing

	p.Registry.PersonClasses = append([]int(nil), c.Detection.PersonClasses...)
	p.Registry.WeaponLabels = make(map[int]string, len(c.Detection.WeaponClasses))
	for k, v := range c.Detection.WeaponClasses {
		p.Registry.WeaponLabels[k] = v
	}
	p.Registry.ScoreWeapon = c.Scoring.Weapon
	p.Registry.SuspicionAlertThreshold = c.Scoring.AlertThreshold
	p.Registry.WeaponHold = c.Scoring.WeaponHold.Std()
	p.Registry.MaxMissedFrames = c.Tracking.MaxMissedFrames
	p.Registry.IdleTimeout = c.Tracking.IdleTimeout.Std()

	p.Identity.MatchThreshold = c.Identity.MatchThreshold
	p.Identity.MaxChecksPerFrame = c.Identity.MaxChecksPerFrame
	p.Identity.CheckIntervalFrames = c.Identity.CheckIntervalFrames
	p.Identity.RecheckInterval = c.Identity.RecheckInterval.Std()
	p.Identity.CheckTimeout = c.Identity.CheckTimeout.Std()
	p.Identity.BreakerThreshold = c.Identity.BreakerThreshold
	p.Identity.BreakerCooldown = c.Identity.BreakerCooldown.Std()

	p.Assigner.Enabled = c.Tracking.AssignIDs
	p.Assigner.MaxDisappeared = c.Tracking.Assigner.MaxDisappeared
	p.Assigner.MinIoU = c.Tracking.Assigner.MinIoU
	p.Assigner.HighThreshold = c.Tracking.Assigner.HighThreshold
	p.Assigner.LowThreshold = c.Tracking.Assigner.LowThreshold
	// Validated already
	p.Assigner.Algorithm, _ = mot.ParseMatchingAlgorithm(c.Tracking.Assigner.Algorithm)
	p.Assigner.KalmanDt = c.Tracking.KalmanDt

	p.AlertCooldown = c.Alert.Cooldown.Std()
	return p
}
