package mot

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Detection is a single detector/tracker output for a frame
type Detection struct {
	BBox    Rectangle
	TrackID int64
	ClassID int
	// Optional detector confidence, used by ByteAssigner only
	Confidence float64
}

// WeaponDetection is rebuilt every frame: it has neither history nor score
type WeaponDetection struct {
	BBox    Rectangle
	Label   string
	TrackID int64
}

// TrackRegistry reconciles detector output with existing tracks
type TrackRegistry struct {
	// Main storage. Read-only for consumers
	Tracks map[int64]*Track
	// Weapons found on the latest frame
	weapons []WeaponDetection

	personClasses map[int]struct{}
	params        RegistryParams
	trackParams   TrackParams
	engine        *BehaviorEngine
	gate          *AlertGate
	sink          EventSink
	logger        zerolog.Logger
	metrics       *Metrics
}

// RegistryOption configures TrackRegistry
type RegistryOption func(*TrackRegistry)

// WithAlertGate sets gate triggered by weapons and highly suspicious tracks
func WithAlertGate(gate *AlertGate) RegistryOption {
	return func(r *TrackRegistry) {
		r.gate = gate
	}
}

// WithEventSink sets audit events consumer
func WithEventSink(sink EventSink) RegistryOption {
	return func(r *TrackRegistry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithRegistryLogger sets logger
func WithRegistryLogger(logger zerolog.Logger) RegistryOption {
	return func(r *TrackRegistry) {
		r.logger = logger
	}
}

// WithRegistryMetrics sets metrics
func WithRegistryMetrics(metrics *Metrics) RegistryOption {
	return func(r *TrackRegistry) {
		r.metrics = metrics
	}
}

// NewTrackRegistry creates empty registry
func NewTrackRegistry(params Params, options ...RegistryOption) *TrackRegistry {
	personClasses := make(map[int]struct{}, len(params.Registry.PersonClasses))
	for _, classID := range params.Registry.PersonClasses {
		personClasses[classID] = struct{}{}
	}
	registry := &TrackRegistry{
		Tracks:        make(map[int64]*Track),
		personClasses: personClasses,
		params:        params.Registry,
		trackParams:   params.Track,
		engine:        NewBehaviorEngine(params.Behavior),
		sink:          nopSink{},
		logger:        zerolog.Nop(),
	}
	for _, option := range options {
		option(registry)
	}
	return registry
}

// Get returns track by ID
func (r *TrackRegistry) Get(trackID int64) (*Track, bool) {
	track, ok := r.Tracks[trackID]
	return track, ok
}

// Weapons returns weapon detections of the latest frame
func (r *TrackRegistry) Weapons() []WeaponDetection {
	return r.weapons
}

// Reset drops every track
func (r *TrackRegistry) Reset() {
	r.Tracks = make(map[int64]*Track)
	r.weapons = nil
	r.metrics.setActiveTracks(0)
}

// Update processes detections of a single frame observed at given moment.
// Returns IDs of persons present on the frame (in input order) and weapon detections of the frame.
func (r *TrackRegistry) Update(now time.Time, detections []Detection) ([]int64, []WeaponDetection) {
	weapons := make([]WeaponDetection, 0)
	persons := make([]Detection, 0, len(detections))
	seen := make(map[int64]struct{}, len(detections))

	for _, detection := range detections {
		if reason := detection.BBox.Validate(); reason != "" {
			r.skip(detection, reason)
			continue
		}
		if label, ok := r.params.WeaponLabels[detection.ClassID]; ok {
			if label == "" {
				label = UnknownWeaponLabel
			}
			weapons = append(weapons, WeaponDetection{
				BBox:    detection.BBox,
				Label:   label,
				TrackID: detection.TrackID,
			})
			r.metrics.weaponDetected(label)
			r.logger.Warn().Str("type", label).Int64("track_id", detection.TrackID).Msg("Weapon detected")
			r.emit(NewWeaponDetectedEvent(label, detection.TrackID, now))
			r.triggerAlert()
			continue
		}
		if _, ok := r.personClasses[detection.ClassID]; !ok {
			r.skip(detection, "class")
			continue
		}
		if _, ok := seen[detection.TrackID]; ok {
			r.skip(detection, "duplicate")
			continue
		}
		seen[detection.TrackID] = struct{}{}
		persons = append(persons, detection)
	}
	r.weapons = weapons

	active := make([]int64, 0, len(persons))
	for _, detection := range persons {
		if r.observe(detection, now) {
			active = append(active, detection.TrackID)
		}
	}

	r.associateWeapons(active, weapons, now)

	for _, trackID := range active {
		track := r.Tracks[trackID]
		track.disarmIfStale(now, r.params.WeaponHold)
		if track.suspicionScore > r.params.SuspicionAlertThreshold {
			r.triggerAlert()
		}
	}

	r.sweep(now, seen)
	r.metrics.setActiveTracks(len(r.Tracks))
	return active, weapons
}

// observe creates or updates a person track and runs behavior analysis.
// Returns false if analysis has failed: frame processing goes on with other tracks.
func (r *TrackRegistry) observe(detection Detection, now time.Time) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Int64("track_id", detection.TrackID).Str("panic", fmt.Sprint(rec)).Msg("Track analysis failed")
			ok = false
		}
	}()
	track, exists := r.Tracks[detection.TrackID]
	if !exists {
		track = NewTrack(detection.TrackID, detection.BBox, now, r.trackParams)
		r.Tracks[detection.TrackID] = track
		r.metrics.trackTransition("created")
		r.logger.Info().Int64("track_id", detection.TrackID).Msg("Person entered")
		r.emit(NewPersonEnteredEvent(detection.TrackID, now))
	} else {
		err := track.Update(detection.BBox, now)
		if err != nil {
			r.logger.Warn().Err(err).Int64("track_id", detection.TrackID).Msg("Centroid smoothing failed")
		}
	}
	r.engine.Analyze(track)
	return true
}

// associateWeapons arms the person who overlaps weapon the most.
// Weapon whose center lies inside person box counts even with zero IoU.
func (r *TrackRegistry) associateWeapons(active []int64, weapons []WeaponDetection, now time.Time) {
	for _, weapon := range weapons {
		var holder *Track
		bestScore := 0.0
		weaponCenter := weapon.BBox.Center()
		for _, trackID := range active {
			track := r.Tracks[trackID]
			score := IoU(weapon.BBox, track.bbox)
			if track.bbox.Contains(weaponCenter) {
				// Small object fully inside person box has low IoU, favor containment
				score += 1.0
			}
			if score > bestScore {
				bestScore = score
				holder = track
			}
		}
		if holder == nil {
			continue
		}
		holder.arm(weapon.Label, r.params.ScoreWeapon, now)
		r.logger.Warn().Int64("track_id", holder.id).Str("type", weapon.Label).Msg("Weapon associated with person")
	}
}

// sweep evicts tracks absent for too long
func (r *TrackRegistry) sweep(now time.Time, seen map[int64]struct{}) {
	expired := make([]int64, 0)
	for trackID, track := range r.Tracks {
		if _, ok := seen[trackID]; ok {
			continue
		}
		track.missedFrames++
		tooManyMisses := r.params.MaxMissedFrames > 0 && track.missedFrames > r.params.MaxMissedFrames
		idle := r.params.IdleTimeout > 0 && now.Sub(track.lastSeen) > r.params.IdleTimeout
		if tooManyMisses || idle {
			expired = append(expired, trackID)
		}
	}
	// Deterministic event order
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, trackID := range expired {
		delete(r.Tracks, trackID)
		r.metrics.trackTransition("evicted")
		r.logger.Info().Int64("track_id", trackID).Msg("Person exited")
		r.emit(NewPersonExitedEvent(trackID, now))
	}
}

func (r *TrackRegistry) skip(detection Detection, reason string) {
	r.metrics.skipDetection(reason)
	r.logger.Debug().Int64("track_id", detection.TrackID).Int("class_id", detection.ClassID).Str("reason", reason).Msg("Detection skipped")
}

func (r *TrackRegistry) triggerAlert() {
	if r.gate == nil {
		return
	}
	r.gate.Trigger()
}

func (r *TrackRegistry) emit(event Event) {
	if err := r.sink.Emit(event); err != nil {
		r.metrics.sinkFailed()
		r.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Can't emit audit event")
	}
}
