package mot

import "time"

const (
	// MaxSuspicionScore is upper bound for Track's suspicion score
	MaxSuspicionScore = 100.0
	// PersonClassCOCO is "person" class in COCO-trained detectors
	PersonClassCOCO = 0
	// UnknownWeaponLabel is used for weapon classes without configured label
	UnknownWeaponLabel = "Unidentified Object"
)

// TrackParams holds per-track history and scoring parameters
type TrackParams struct {
	// Capacity of location history. Default 500
	HistorySize int
	// Capacity of velocity history. Default 30
	VelocityHistorySize int
	// Per-frame decay factor applied when track has no active alerts. Default 0.98
	Decay float64
	// When positive, decay is normalized by elapsed time: Decay^(dt*DecayReferenceFPS).
	// Zero keeps per-frame decay.
	DecayReferenceFPS float64
	// Fraction of points added when alert tag is already active. Default 0.05
	RepeatWeight float64
	// Record Kalman-smoothed centroids in history instead of raw bbox midpoints
	SmoothCentroids bool
	// Time step of Kalman filter (seconds). Default 1/30
	KalmanDt float64
}

// BehaviorParams holds thresholds of trajectory analyzers.
// Speed thresholds are scene calibration constants (pixels per second) and should be tuned per camera.
type BehaviorParams struct {
	LoiterTime        time.Duration
	LoiterRadius      float64
	LoiterMinSamples  int
	PacingMinSamples  int
	PacingMaxRatio    float64
	PacingMinDistance float64
	WalkingSpeed      float64
	RunningSpeed      float64
	ScoreLoitering    float64
	ScorePacing       float64
}

// RegistryParams holds detection partitioning and lifecycle parameters
type RegistryParams struct {
	PersonClasses []int
	// Weapon class ID -> human readable label
	WeaponLabels map[int]string
	// Points added to a person holding a weapon (clamped anyway)
	ScoreWeapon float64
	// Score above which AlertGate is triggered
	SuspicionAlertThreshold float64
	// How long weapon tag stays on a person after last association
	WeaponHold time.Duration
	// Max number of consecutive frames when track could be absent. Zero disables the bound
	MaxMissedFrames int
	// Max time since last sighting. Zero disables the bound
	IdleTimeout time.Duration
}

// IdentityParams holds face check scheduling parameters
type IdentityParams struct {
	MaxChecksPerFrame   int
	CheckIntervalFrames int64
	RecheckInterval     time.Duration
	MatchThreshold      float64
	CheckTimeout        time.Duration
	BreakerThreshold    int
	BreakerCooldown     time.Duration
}

// AssignerParams configures ByteAssigner for streams without upstream track IDs
type AssignerParams struct {
	Enabled bool
	// Frames a box may be unmatched before it is dropped. Default 5
	MaxDisappeared int
	// Minimal IoU of a match. Default 0.3
	MinIoU float64
	// Detections at or above are matched first and may start new boxes. Default 0.5
	HighThreshold float64
	// Detections below are ignored. Default 0.3
	LowThreshold float64
	Algorithm    MatchingAlgorithm
	// Issued IDs start right after it, keeping them apart from upstream IDs. Default 1<<32
	FirstID  int64
	KalmanDt float64
}

// Params aggregates parameters of every component
type Params struct {
	Track         TrackParams
	Behavior      BehaviorParams
	Registry      RegistryParams
	Identity      IdentityParams
	Assigner      AssignerParams
	AlertCooldown time.Duration
}

// DefaultParams returns parameters calibrated for 1280x720 @ 30 FPS indoor camera
func DefaultParams() Params {
	return Params{
		Track: TrackParams{
			HistorySize:         500,
			VelocityHistorySize: 30,
			Decay:               0.98,
			RepeatWeight:        0.05,
			KalmanDt:            1.0 / 30.0,
		},
		Behavior: BehaviorParams{
			LoiterTime:        30 * time.Second,
			LoiterRadius:      80,
			LoiterMinSamples:  20,
			PacingMinSamples:  50,
			PacingMaxRatio:    0.1,
			PacingMinDistance: 500,
			WalkingSpeed:      50,
			RunningSpeed:      200,
			ScoreLoitering:    20,
			ScorePacing:       30,
		},
		Registry: RegistryParams{
			PersonClasses: []int{PersonClassCOCO},
			WeaponLabels: map[int]string{
				43: "KNIFE",
				76: "SCISSORS",
			},
			ScoreWeapon:             1000,
			SuspicionAlertThreshold: 80,
			WeaponHold:              5 * time.Second,
			MaxMissedFrames:         75,
			IdleTimeout:             10 * time.Second,
		},
		Identity: IdentityParams{
			MaxChecksPerFrame:   3,
			CheckIntervalFrames: 3,
			RecheckInterval:     time.Second,
			MatchThreshold:      0.55,
			CheckTimeout:        500 * time.Millisecond,
			BreakerThreshold:    5,
			BreakerCooldown:     10 * time.Second,
		},
		Assigner: AssignerParams{
			MaxDisappeared: 5,
			MinIoU:         0.3,
			HighThreshold:  0.5,
			LowThreshold:   0.3,
			Algorithm:      MatchingAlgorithmHungarian,
			FirstID:        1 << 32,
			KalmanDt:       1.0 / 30.0,
		},
		AlertCooldown: 2 * time.Second,
	}
}
