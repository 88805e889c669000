package mot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// FrameResult is output of a single frame consumed by renderers and loggers
type FrameResult struct {
	ActiveIDs []int64
	Weapons   []WeaponDetection
	Identity  IdentityReport
	// Kalman estimates of centroids of active tracks
	Estimates map[int64]Point
}

// Monitor runs per-frame pipeline: registry -> behavior -> identity -> alerts.
// Frames must be processed sequentially.
type Monitor struct {
	registry *TrackRegistry
	identity *IdentityScheduler
	assigner *ByteAssigner
	gate     *AlertGate
	sink     EventSink
	logger   zerolog.Logger
	metrics  *Metrics
	clock    Clock
	version  string
}

// MonitorConfig bundles collaborators of Monitor. Only Params is required.
type MonitorConfig struct {
	Params    Params
	Notifier  Notifier
	Extractor FaceExtractor
	Matcher   Matcher
	Sink      EventSink
	Logger    *zerolog.Logger
	Metrics   *Metrics
	Clock     Clock
	Version   string
}

// NewMonitor wires every component. Identity checks are disabled unless both Extractor and Matcher are set.
func NewMonitor(cfg MonitorConfig) *Monitor {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	var sink EventSink = nopSink{}
	if cfg.Sink != nil {
		sink = cfg.Sink
	}

	gate := NewAlertGate(
		cfg.Notifier,
		cfg.Params.AlertCooldown,
		WithGateClock(clock),
		WithGateLogger(logger.With().Str("component", "alert_gate").Logger()),
		WithGateMetrics(cfg.Metrics),
	)
	registry := NewTrackRegistry(
		cfg.Params,
		WithAlertGate(gate),
		WithEventSink(sink),
		WithRegistryLogger(logger.With().Str("component", "registry").Logger()),
		WithRegistryMetrics(cfg.Metrics),
	)
	monitor := &Monitor{
		registry: registry,
		gate:     gate,
		sink:     sink,
		logger:   logger,
		metrics:  cfg.Metrics,
		clock:    clock,
		version:  cfg.Version,
	}
	if cfg.Params.Assigner.Enabled {
		monitor.assigner = NewByteAssigner(cfg.Params.Assigner, cfg.Params.Registry.PersonClasses)
	}
	if cfg.Extractor != nil && cfg.Matcher != nil {
		monitor.identity = NewIdentityScheduler(
			cfg.Extractor,
			cfg.Matcher,
			cfg.Params.Identity,
			WithIdentityAlertGate(gate),
			WithIdentityEventSink(sink),
			WithIdentityLogger(logger.With().Str("component", "identity").Logger()),
			WithIdentityMetrics(cfg.Metrics),
		)
	}
	return monitor
}

// Registry exposes track registry for read-only consumers
func (m *Monitor) Registry() *TrackRegistry {
	return m.registry
}

// AlertGate exposes alert gate
func (m *Monitor) AlertGate() *AlertGate {
	return m.gate
}

// Start emits SYSTEM_START event
func (m *Monitor) Start() {
	m.logger.Info().Str("version", m.version).Msg("Monitor started")
	m.emit(NewEvent(EventSystemStart, m.clock.Now(), map[string]any{"version": m.version}))
}

// Close waits for pending alert notifications and emits SYSTEM_SHUTDOWN event
func (m *Monitor) Close() {
	m.gate.Wait()
	m.emit(NewEvent(EventSystemShutdown, m.clock.Now(), nil))
	m.logger.Info().Msg("Monitor stopped")
}

// Reset drops every track
func (m *Monitor) Reset() {
	m.registry.Reset()
	if m.assigner != nil {
		m.assigner.Reset()
	}
	m.logger.Info().Msg("Monitor state reset")
}

// ProcessFrame runs the whole pipeline for a frame. Frame without timestamp is stamped with the clock.
// It never fails: any failure is logged and the next frame can be processed.
func (m *Monitor) ProcessFrame(ctx context.Context, frame *Frame) (result FrameResult) {
	if frame == nil {
		m.logger.Warn().Msg("Nil frame skipped")
		return result
	}
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error().Int64("frame", frame.Index).Str("panic", fmt.Sprint(rec)).Msg("Frame processing failed")
		}
		m.metrics.observeFrame(time.Since(start))
	}()

	if frame.Timestamp.IsZero() {
		frame.Timestamp = m.clock.Now()
	} else if fc, ok := m.clock.(*FrameClock); ok {
		fc.Observe(frame.Timestamp)
	}

	if m.assigner != nil {
		detections, err := m.assigner.Assign(frame.Detections)
		if err != nil {
			m.logger.Warn().Err(err).Int64("frame", frame.Index).Msg("Track ID assignment failed")
		}
		frame.Detections = detections
	}

	result.ActiveIDs, result.Weapons = m.registry.Update(frame.Timestamp, frame.Detections)
	result.Estimates = make(map[int64]Point, len(result.ActiveIDs))
	for _, trackID := range result.ActiveIDs {
		if track, ok := m.registry.Get(trackID); ok {
			result.Estimates[trackID] = track.GetEstimatedCenter()
		}
	}

	if m.identity != nil && len(result.ActiveIDs) > 0 {
		tracks := make([]*Track, 0, len(result.ActiveIDs))
		for _, trackID := range result.ActiveIDs {
			if track, ok := m.registry.Get(trackID); ok {
				tracks = append(tracks, track)
			}
		}
		report, err := m.identity.Run(ctx, frame, tracks)
		if err != nil {
			m.logger.Debug().Err(err).Int64("frame", frame.Index).Msg("Identity checks skipped")
		}
		result.Identity = report
	}
	return result
}

func (m *Monitor) emit(event Event) {
	if err := m.sink.Emit(event); err != nil {
		m.metrics.sinkFailed()
		m.logger.Error().Err(err).Str("event", string(event.Type)).Msg("Can't emit audit event")
	}
}
