package mot

import (
	"math"
	"strings"
	"time"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

const (
	AlertLoitering = "Loitering"
	AlertPacing    = "Pacing"
	// WeaponTagKeyword marks alert tags which survive staff clearance
	WeaponTagKeyword = "Weapon"
)

// WeaponAlertTag returns alert tag for a person associated with a weapon
func WeaponAlertTag(label string) string {
	return WeaponTagKeyword + ":" + label
}

// MovementState is coarse classification of track's speed
type MovementState uint8

const (
	MovementStanding MovementState = iota
	MovementWalking
	MovementRunning
)

func (m MovementState) String() string {
	switch m {
	case MovementWalking:
		return "Walking"
	case MovementRunning:
		return "Running"
	default:
		return "Standing"
	}
}

// LocationSample is a centroid observed at a given time
type LocationSample struct {
	Point Point
	Time  time.Time
}

// Track is behavioral state of a single person identified by detector-provided track ID
type Track struct {
	id              int64
	bbox            Rectangle
	centroid        Point
	estimatedCenter Point
	locationHistory *RingBuffer[LocationSample]
	velocityHistory *RingBuffer[float64]
	firstSeen       time.Time
	lastSeen        time.Time
	identity        Identity
	suspicionScore  float64
	activeAlerts    []string
	movementState   MovementState
	missedFrames    int
	lastArmed       time.Time
	params          TrackParams
	tracker         *kalman_filter.Kalman2D
}

// NewTrack creates track seen first time at given moment
func NewTrack(id int64, bbox Rectangle, now time.Time, params TrackParams) *Track {
	center := bbox.Center()

	dt := params.KalmanDt
	if dt <= 0 {
		dt = 1.0
	}
	/* Kalman filter props */
	ux := 1.0
	uy := 1.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	kf := kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(center.X, center.Y))

	track := Track{
		id:              id,
		bbox:            bbox,
		centroid:        center,
		estimatedCenter: center,
		locationHistory: NewRingBuffer[LocationSample](params.HistorySize),
		velocityHistory: NewRingBuffer[float64](params.VelocityHistorySize),
		firstSeen:       now,
		lastSeen:        now,
		identity:        Identity{Role: RoleVisitor},
		activeAlerts:    make([]string, 0, 4),
		movementState:   MovementStanding,
		params:          params,
		tracker:         kf,
	}
	track.locationHistory.Push(LocationSample{Point: center, Time: now})
	return &track
}

// GetID returns track's identifier
func (t *Track) GetID() int64 {
	return t.id
}

// GetBBox returns current bounding box
func (t *Track) GetBBox() Rectangle {
	return t.bbox
}

// GetCenter returns current centroid
func (t *Track) GetCenter() Point {
	return t.centroid
}

// GetEstimatedCenter returns Kalman filter estimate of the centroid
func (t *Track) GetEstimatedCenter() Point {
	return t.estimatedCenter
}

// GetLocationHistory returns copy of location history (oldest first)
func (t *Track) GetLocationHistory() []LocationSample {
	return t.locationHistory.Values()
}

// GetVelocityHistory returns copy of velocity history (oldest first)
func (t *Track) GetVelocityHistory() []float64 {
	return t.velocityHistory.Values()
}

// GetFirstSeen returns time of the first sighting
func (t *Track) GetFirstSeen() time.Time {
	return t.firstSeen
}

// GetLastSeen returns time of the latest sighting
func (t *Track) GetLastSeen() time.Time {
	return t.lastSeen
}

// Age returns time elapsed between first and latest sightings
func (t *Track) Age() time.Duration {
	return t.lastSeen.Sub(t.firstSeen)
}

// GetIdentity returns identity state
func (t *Track) GetIdentity() Identity {
	return t.identity
}

// GetRole is shortcut for GetIdentity().Role
func (t *Track) GetRole() Role {
	return t.identity.Role
}

// GetSuspicionScore returns score in [0, 100]
func (t *Track) GetSuspicionScore() float64 {
	return t.suspicionScore
}

// GetAlerts returns copy of active alert tags in insertion order
func (t *Track) GetAlerts() []string {
	out := make([]string, len(t.activeAlerts))
	copy(out, t.activeAlerts)
	return out
}

// HasAlert checks whether tag is active
func (t *Track) HasAlert(tag string) bool {
	for _, a := range t.activeAlerts {
		if a == tag {
			return true
		}
	}
	return false
}

// GetMovementState returns latest movement classification
func (t *Track) GetMovementState() MovementState {
	return t.movementState
}

// GetMissedFrames returns number of consecutive frames the track was absent
func (t *Track) GetMissedFrames() int {
	return t.missedFrames
}

// Update moves track to the new bounding box observed at given moment.
// Returned error comes from the smoothing filter only: the track is advanced with the raw centroid anyway.
func (t *Track) Update(bbox Rectangle, now time.Time) error {
	rawCenter := bbox.Center()
	newCenter := rawCenter

	var filterErr error
	t.tracker.Predict()
	err := t.tracker.Update(rawCenter.X, rawCenter.Y)
	if err != nil {
		filterErr = errors.Wrapf(err, "Can't update centroid filter of track %d", t.id)
		t.estimatedCenter = rawCenter
	} else {
		stateX, stateY := t.tracker.GetState()
		t.estimatedCenter = Point{X: stateX, Y: stateY}
		if t.params.SmoothCentroids {
			newCenter = t.estimatedCenter
		}
	}

	// Zero or negative dt gives no velocity sample
	dt := now.Sub(t.lastSeen).Seconds()
	if dt > 0 {
		t.velocityHistory.Push(euclideanDistance(newCenter, t.centroid) / dt)
	}

	t.bbox = bbox
	t.centroid = newCenter
	if now.After(t.lastSeen) {
		t.lastSeen = now
	}
	t.locationHistory.Push(LocationSample{Point: newCenter, Time: t.lastSeen})
	t.missedFrames = 0

	if len(t.activeAlerts) == 0 && t.suspicionScore > 0 {
		t.suspicionScore = clampScore(t.suspicionScore * t.decayFactor(dt))
	}
	return filterErr
}

func (t *Track) decayFactor(dt float64) float64 {
	if t.params.DecayReferenceFPS <= 0 {
		return t.params.Decay
	}
	if dt <= 0 {
		return 1.0
	}
	return math.Pow(t.params.Decay, dt*t.params.DecayReferenceFPS)
}

// AddSuspicion raises score for given reason. New reason contributes full points,
// already active one contributes only RepeatWeight fraction of them.
func (t *Track) AddSuspicion(points float64, reason string) {
	if !t.HasAlert(reason) {
		t.activeAlerts = append(t.activeAlerts, reason)
		t.suspicionScore = clampScore(t.suspicionScore + points)
		return
	}
	t.suspicionScore = clampScore(t.suspicionScore + points*t.params.RepeatWeight)
}

// ClearAlert removes single tag. Score is not changed.
func (t *Track) ClearAlert(reason string) {
	t.retainAlerts(func(tag string) bool {
		return tag != reason
	})
}

// ClearAlerts removes every tag. Score is not changed.
func (t *Track) ClearAlerts() {
	t.activeAlerts = t.activeAlerts[:0]
}

// SetIdentity confirms track identity and applies override policy of the role
func (t *Track) SetIdentity(name string, role Role, matchScore float64) {
	t.identity.Name = name
	t.identity.Role = role
	t.identity.Confirmed = true
	t.identity.MatchScore = matchScore
	policyFor(role).apply(t, name)
}

// MarkChecked records moment of the latest identity check
func (t *Track) MarkChecked(now time.Time) {
	t.identity.LastCheckTime = now
}

func (t *Track) retainAlerts(keep func(tag string) bool) {
	kept := t.activeAlerts[:0]
	for _, tag := range t.activeAlerts {
		if keep(tag) {
			kept = append(kept, tag)
		}
	}
	t.activeAlerts = kept
}

func (t *Track) arm(label string, points float64, now time.Time) {
	t.AddSuspicion(points, WeaponAlertTag(label))
	t.lastArmed = now
}

func (t *Track) disarmIfStale(now time.Time, hold time.Duration) {
	if t.lastArmed.IsZero() || now.Sub(t.lastArmed) <= hold {
		return
	}
	t.retainAlerts(func(tag string) bool {
		return !strings.HasPrefix(tag, WeaponTagKeyword+":")
	})
	t.lastArmed = time.Time{}
}
