package mot

import (
	"gonum.org/v1/gonum/stat"
)

// BehaviorEngine detects trajectory anomalies. It keeps no per-track state:
// everything is derived from the track's history on every call.
type BehaviorEngine struct {
	params BehaviorParams
}

// NewBehaviorEngine creates engine with given thresholds
func NewBehaviorEngine(params BehaviorParams) *BehaviorEngine {
	return &BehaviorEngine{
		params: params,
	}
}

// Analyze updates track's alerts, suspicion score and movement state
func (engine *BehaviorEngine) Analyze(track *Track) {
	if !policyFor(track.identity.Role).skipBehavior {
		if engine.CheckLoitering(track) {
			track.AddSuspicion(engine.params.ScoreLoitering, AlertLoitering)
		} else {
			track.ClearAlert(AlertLoitering)
		}

		if engine.CheckPacing(track) {
			track.AddSuspicion(engine.params.ScorePacing, AlertPacing)
		} else {
			track.ClearAlert(AlertPacing)
		}
	}
	track.movementState = engine.ClassifyMovement(track)
}

// CheckLoitering returns true if track stays within small radius long enough.
// Spread is the mean of per-axis population standard deviations of recorded centroids.
func (engine *BehaviorEngine) CheckLoitering(track *Track) bool {
	if track.Age() < engine.params.LoiterTime {
		return false
	}
	n := track.locationHistory.Len()
	if n < engine.params.LoiterMinSamples || n == 0 {
		return false
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		p := track.locationHistory.At(i).Point
		xs[i] = p.X
		ys[i] = p.Y
	}
	spread := (stat.PopStdDev(xs, nil) + stat.PopStdDev(ys, nil)) / 2.0
	return spread < engine.params.LoiterRadius
}

// CheckPacing returns true if track covers long path with little net progress (back and forth motion)
func (engine *BehaviorEngine) CheckPacing(track *Track) bool {
	n := track.locationHistory.Len()
	if n < engine.params.PacingMinSamples || n < 2 {
		return false
	}
	first := track.locationHistory.At(0).Point
	last := track.locationHistory.At(n - 1).Point
	displacement := euclideanDistance(first, last)

	totalDistance := 0.0
	prev := first
	for i := 1; i < n; i++ {
		current := track.locationHistory.At(i).Point
		totalDistance += euclideanDistance(prev, current)
		prev = current
	}
	if totalDistance == 0 {
		return false
	}
	ratio := displacement / totalDistance
	return ratio < engine.params.PacingMaxRatio && totalDistance > engine.params.PacingMinDistance
}

// ClassifyMovement maps mean recent speed to movement state
func (engine *BehaviorEngine) ClassifyMovement(track *Track) MovementState {
	if track.velocityHistory.Len() == 0 {
		return MovementStanding
	}
	mean := stat.Mean(track.velocityHistory.Values(), nil)
	switch {
	case mean > engine.params.RunningSpeed:
		return MovementRunning
	case mean > engine.params.WalkingSpeed:
		return MovementWalking
	default:
		return MovementStanding
	}
}
