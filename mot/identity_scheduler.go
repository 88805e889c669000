package mot

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrBreakerOpen is returned when identity checks are suspended after consecutive resolver failures
var ErrBreakerOpen = errors.New("identity resolver circuit breaker is open")

// Frame is a single frame of the detector/tracker stream
type Frame struct {
	Index      int64
	Timestamp  time.Time
	Width      int
	Height     int
	Detections []Detection
	// Optional: passed through to FaceExtractor
	Image image.Image
}

// FaceExtractor returns face embedding of the largest face inside crop.
// Nil embedding with nil error means no face has been found.
type FaceExtractor interface {
	Extract(ctx context.Context, frame *Frame, trackID int64, crop image.Rectangle) ([]float64, error)
}

// Match is a positive answer of identity database
type Match struct {
	Name  string
	Role  Role
	Score float64
}

// Matcher finds the best gallery entry for embedding
type Matcher interface {
	Match(embedding []float64, threshold float64) (Match, bool)
}

// IdentityReport summarizes identity checks of a frame
type IdentityReport struct {
	Checked    int
	Identified []int64
	Failed     int
}

// IdentityScheduler spends per-frame budget of face checks on tracks waiting the longest
type IdentityScheduler struct {
	extractor FaceExtractor
	matcher   Matcher
	params    IdentityParams
	gate      *AlertGate
	sink      EventSink
	logger    zerolog.Logger
	metrics   *Metrics
	breaker   *breaker
}

// IdentityOption configures IdentityScheduler
type IdentityOption func(*IdentityScheduler)

// WithIdentityAlertGate sets gate triggered on suspect identification
func WithIdentityAlertGate(gate *AlertGate) IdentityOption {
	return func(s *IdentityScheduler) {
		s.gate = gate
	}
}

// WithIdentityEventSink sets audit events consumer
func WithIdentityEventSink(sink EventSink) IdentityOption {
	return func(s *IdentityScheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithIdentityLogger sets logger
func WithIdentityLogger(logger zerolog.Logger) IdentityOption {
	return func(s *IdentityScheduler) {
		s.logger = logger
	}
}

// WithIdentityMetrics sets metrics
func WithIdentityMetrics(metrics *Metrics) IdentityOption {
	return func(s *IdentityScheduler) {
		s.metrics = metrics
	}
}

// NewIdentityScheduler creates scheduler over external face extractor and identity database
func NewIdentityScheduler(extractor FaceExtractor, matcher Matcher, params IdentityParams, options ...IdentityOption) *IdentityScheduler {
	scheduler := &IdentityScheduler{
		extractor: extractor,
		matcher:   matcher,
		params:    params,
		sink:      nopSink{},
		logger:    zerolog.Nop(),
		breaker:   newBreaker(params.BreakerThreshold, params.BreakerCooldown),
	}
	for _, option := range options {
		option(scheduler)
	}
	return scheduler
}

// Run checks at most MaxChecksPerFrame due tracks, oldest check time first.
// Resolver failures never surface: track stays unidentified until a later frame.
func (s *IdentityScheduler) Run(ctx context.Context, frame *Frame, tracks []*Track) (IdentityReport, error) {
	report := IdentityReport{}
	now := frame.Timestamp
	if !s.breaker.allow(now) {
		s.metrics.identityCheck("breaker_open")
		return report, ErrBreakerOpen
	}

	queue := make(checkHeap, 0, len(tracks))
	for _, track := range tracks {
		queue.Push(track)
	}

	for queue.Len() > 0 && report.Checked < s.params.MaxChecksPerFrame {
		track := queue.Pop()
		if !s.due(frame, track) {
			continue
		}
		report.Checked++
		track.MarkChecked(now)

		crop := track.bbox.ImageRect(frame.Width, frame.Height)
		if crop.Empty() {
			s.metrics.identityCheck("empty_crop")
			continue
		}

		match, found, err := s.resolve(ctx, frame, track.id, crop)
		if err != nil {
			report.Failed++
			s.metrics.identityCheck("error")
			s.logger.Warn().Err(err).Int64("track_id", track.id).Msg("Identity check failed")
			if s.breaker.failure(now) {
				s.logger.Error().Dur("cooldown", s.params.BreakerCooldown).Msg("Identity checks suspended")
				return report, ErrBreakerOpen
			}
			continue
		}
		s.breaker.success()
		if !found {
			s.metrics.identityCheck("no_match")
			continue
		}
		s.metrics.identityCheck("match")
		s.apply(track, match, now)
		report.Identified = append(report.Identified, track.id)
	}
	return report, nil
}

// due reports whether track should be checked on this frame:
// unconfirmed tracks always, confirmed ones periodically
func (s *IdentityScheduler) due(frame *Frame, track *Track) bool {
	if !track.identity.Confirmed {
		return true
	}
	interval := s.params.CheckIntervalFrames
	if interval <= 0 {
		interval = 1
	}
	if frame.Index%interval != 0 {
		return false
	}
	return frame.Timestamp.Sub(track.identity.LastCheckTime) > s.params.RecheckInterval
}

type resolveResult struct {
	embedding []float64
	err       error
}

// resolve runs extractor under timeout. Extractor ignoring context can't stall the frame loop:
// its result is abandoned once deadline passes.
func (s *IdentityScheduler) resolve(ctx context.Context, frame *Frame, trackID int64, crop image.Rectangle) (Match, bool, error) {
	if s.params.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.params.CheckTimeout)
		defer cancel()
	}

	done := make(chan resolveResult, 1)
	go func() {
		embedding, err := s.extractor.Extract(ctx, frame, trackID, crop)
		done <- resolveResult{embedding: embedding, err: err}
	}()

	var result resolveResult
	select {
	case result = <-done:
	case <-ctx.Done():
		return Match{}, false, errors.Wrapf(ctx.Err(), "Face extraction for track %d", trackID)
	}
	if result.err != nil {
		return Match{}, false, errors.Wrapf(result.err, "Face extraction for track %d", trackID)
	}
	if len(result.embedding) == 0 {
		return Match{}, false, nil
	}
	match, found := s.matcher.Match(result.embedding, s.params.MatchThreshold)
	return match, found, nil
}

func (s *IdentityScheduler) apply(track *Track, match Match, now time.Time) {
	previous := track.identity
	track.SetIdentity(match.Name, match.Role, match.Score)
	if !previous.Confirmed || previous.Name != match.Name || previous.Role != match.Role {
		s.logger.Info().
			Int64("track_id", track.id).
			Str("name", match.Name).
			Str("role", match.Role.String()).
			Float64("score", match.Score).
			Msg("Person identified")
		if err := s.sink.Emit(NewIdentifiedEvent(track.id, match.Name, match.Role, now)); err != nil {
			s.metrics.sinkFailed()
			s.logger.Error().Err(err).Msg("Can't emit audit event")
		}
	}
	if match.Role == RoleSuspect && s.gate != nil {
		s.gate.Trigger()
	}
}
