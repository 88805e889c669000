package mot

import (
	"math"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) ofType(eventType EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func personAt(trackID int64, x1, y1, x2, y2 float64) Detection {
	return Detection{BBox: NewRectFromCorners(x1, y1, x2, y2), TrackID: trackID, ClassID: PersonClassCOCO}
}

func newTestRegistry(params Params, sink EventSink, notifier Notifier, clock Clock) *TrackRegistry {
	gate := NewAlertGate(notifier, params.AlertCooldown, WithGateClock(clock))
	return NewTrackRegistry(params, WithEventSink(sink), WithAlertGate(gate))
}

func TestRegistryCreatesAndUpdatesTracks(t *testing.T) {
	sink := &recordingSink{}
	registry := newTestRegistry(DefaultParams(), sink, &countingNotifier{}, newFakeClock(testEpoch))

	active, weapons := registry.Update(testEpoch, []Detection{
		personAt(1, 0, 0, 50, 100),
		personAt(2, 200, 0, 250, 100),
	})
	if len(active) != 2 || len(weapons) != 0 {
		t.Fatalf("Expected 2 persons and no weapons, got %v %v", active, weapons)
	}
	if len(sink.ofType(EventPersonEntered)) != 2 {
		t.Errorf("Expected 2 PERSON_ENTERED events, got %d", len(sink.ofType(EventPersonEntered)))
	}

	active, _ = registry.Update(testEpoch.Add(time.Second), []Detection{
		personAt(1, 10, 0, 60, 100),
	})
	if len(active) != 1 || active[0] != 1 {
		t.Fatalf("Expected only track 1 active, got %v", active)
	}
	if len(sink.ofType(EventPersonEntered)) != 2 {
		t.Error("Existing track should not emit PERSON_ENTERED again")
	}
	track, ok := registry.Get(1)
	if !ok {
		t.Fatal("Track 1 should exist")
	}
	if track.GetCenter() != (Point{X: 35, Y: 50}) {
		t.Errorf("Expected updated center (35, 50), got %v", track.GetCenter())
	}
	if math.Abs(track.GetVelocityHistory()[0]-10) > eps {
		t.Errorf("Expected velocity 10 px/s, got %v", track.GetVelocityHistory())
	}
	if len(registry.Tracks) != 2 {
		t.Errorf("Track 2 should still be held, got %d tracks", len(registry.Tracks))
	}
}

func TestRegistryIsolatesWeapons(t *testing.T) {
	sink := &recordingSink{}
	notifier := &countingNotifier{}
	registry := newTestRegistry(DefaultParams(), sink, notifier, newFakeClock(testEpoch))

	active, weapons := registry.Update(testEpoch, []Detection{
		personAt(1, 0, 0, 100, 200),
		{BBox: NewRectFromCorners(40, 80, 60, 120), TrackID: 9, ClassID: 43},
		{BBox: NewRectFromCorners(900, 80, 920, 120), TrackID: 10, ClassID: 76},
	})
	registry.gate.Wait()

	if len(active) != 1 {
		t.Errorf("Weapons should not become person tracks, active: %v", active)
	}
	if len(weapons) != 2 || weapons[0].Label != "KNIFE" || weapons[1].Label != "SCISSORS" {
		t.Fatalf("Unexpected weapons %+v", weapons)
	}
	if _, ok := registry.Get(9); ok {
		t.Error("Weapon must not be registered as track")
	}
	events := sink.ofType(EventWeaponDetected)
	if len(events) != 2 || events[0].Details["type"] != "KNIFE" || events[0].Details["track_id"] != int64(9) {
		t.Errorf("Unexpected WEAPON_DETECTED events %+v", events)
	}
	if notifier.calls.Load() != 1 {
		t.Errorf("Expected single throttled notification, got %d", notifier.calls.Load())
	}

	holder, _ := registry.Get(1)
	if !holder.HasAlert("Weapon:KNIFE") || holder.GetSuspicionScore() != MaxSuspicionScore {
		t.Errorf("Knife holder should be armed, got %v score %f", holder.GetAlerts(), holder.GetSuspicionScore())
	}
	if holder.HasAlert("Weapon:SCISSORS") {
		t.Error("Far away scissors should not be associated")
	}

	// Weapons list is rebuilt every frame
	_, weapons = registry.Update(testEpoch.Add(time.Second), []Detection{personAt(1, 0, 0, 100, 200)})
	if len(weapons) != 0 || len(registry.Weapons()) != 0 {
		t.Errorf("Weapons should be reset each frame, got %v", weapons)
	}
}

func TestRegistryStaffKeepsWeaponAlert(t *testing.T) {
	registry := newTestRegistry(DefaultParams(), &recordingSink{}, &countingNotifier{}, newFakeClock(testEpoch))
	registry.Update(testEpoch, []Detection{
		personAt(1, 0, 0, 100, 200),
		{BBox: NewRectFromCorners(40, 80, 60, 120), TrackID: 9, ClassID: 43},
	})
	registry.gate.Wait()
	track, _ := registry.Get(1)
	track.SetIdentity("Officer", RoleStaff, 0.9)
	if track.GetSuspicionScore() != 0 || !track.HasAlert("Weapon:KNIFE") {
		t.Errorf("Staff override should keep weapon alert, got %v score %f", track.GetAlerts(), track.GetSuspicionScore())
	}
}

func TestRegistrySkipsMalformed(t *testing.T) {
	sink := &recordingSink{}
	metrics := NewMetrics()
	gate := NewAlertGate(&countingNotifier{}, time.Second)
	registry := NewTrackRegistry(DefaultParams(), WithEventSink(sink), WithAlertGate(gate), WithRegistryMetrics(metrics))

	active, _ := registry.Update(testEpoch, []Detection{
		personAt(1, 10, 10, 10, 50),
		personAt(2, math.NaN(), 0, 10, 10),
		personAt(3, 0, 0, math.Inf(1), 10),
		{BBox: NewRectFromCorners(0, 0, 10, 10), TrackID: 4, ClassID: 2},
		personAt(5, 0, 0, 20, 40),
		personAt(5, 100, 0, 120, 40),
	})
	if len(active) != 1 || active[0] != 5 {
		t.Errorf("Only track 5 should be processed, got %v", active)
	}
	track, _ := registry.Get(5)
	if track.GetCenter() != (Point{X: 10, Y: 20}) {
		t.Errorf("First occurrence of duplicated ID should win, got %v", track.GetCenter())
	}
	if len(sink.ofType(EventPersonEntered)) != 1 {
		t.Errorf("Expected single PERSON_ENTERED event, got %d", len(sink.ofType(EventPersonEntered)))
	}
}

func TestRegistryEvictsStaleTracks(t *testing.T) {
	params := DefaultParams()
	params.Registry.MaxMissedFrames = 3
	params.Registry.IdleTimeout = 0
	sink := &recordingSink{}
	registry := newTestRegistry(params, sink, &countingNotifier{}, newFakeClock(testEpoch))

	registry.Update(testEpoch, []Detection{personAt(1, 0, 0, 10, 10), personAt(2, 50, 0, 60, 10)})
	for i := 1; i <= 3; i++ {
		registry.Update(testEpoch.Add(time.Duration(i)*time.Second), []Detection{personAt(2, 50, 0, 60, 10)})
		if _, ok := registry.Get(1); !ok {
			t.Fatalf("Track 1 evicted too early after %d missed frames", i)
		}
	}
	registry.Update(testEpoch.Add(4*time.Second), []Detection{personAt(2, 50, 0, 60, 10)})
	if _, ok := registry.Get(1); ok {
		t.Error("Track 1 should be evicted after 4 missed frames")
	}
	if _, ok := registry.Get(2); !ok {
		t.Error("Track 2 should be kept")
	}
	exited := sink.ofType(EventPersonExited)
	if len(exited) != 1 || exited[0].Details["track_id"] != int64(1) {
		t.Errorf("Expected PERSON_EXITED for track 1, got %+v", exited)
	}
}

func TestRegistryEvictsIdleTracks(t *testing.T) {
	params := DefaultParams()
	params.Registry.MaxMissedFrames = 0
	params.Registry.IdleTimeout = 5 * time.Second
	registry := newTestRegistry(params, &recordingSink{}, &countingNotifier{}, newFakeClock(testEpoch))

	registry.Update(testEpoch, []Detection{personAt(1, 0, 0, 10, 10)})
	registry.Update(testEpoch.Add(5*time.Second), nil)
	if _, ok := registry.Get(1); !ok {
		t.Fatal("Track should survive exactly idle timeout")
	}
	registry.Update(testEpoch.Add(6*time.Second), nil)
	if _, ok := registry.Get(1); ok {
		t.Error("Idle track should be evicted")
	}
}

func TestRegistryTriggersOnHighSuspicion(t *testing.T) {
	clock := newFakeClock(testEpoch)
	notifier := &countingNotifier{}
	registry := newTestRegistry(DefaultParams(), &recordingSink{}, notifier, clock)

	registry.Update(testEpoch, []Detection{personAt(1, 0, 0, 10, 10)})
	track, _ := registry.Get(1)
	track.AddSuspicion(85, "Manual")
	registry.Update(testEpoch.Add(time.Second), []Detection{personAt(1, 0, 0, 10, 10)})
	registry.gate.Wait()
	if notifier.calls.Load() != 1 {
		t.Errorf("Expected notification for score above threshold, got %d", notifier.calls.Load())
	}
}

func TestRegistryReset(t *testing.T) {
	registry := newTestRegistry(DefaultParams(), &recordingSink{}, &countingNotifier{}, newFakeClock(testEpoch))
	registry.Update(testEpoch, []Detection{personAt(1, 0, 0, 10, 10)})
	registry.Reset()
	if len(registry.Tracks) != 0 {
		t.Errorf("Expected empty registry, got %d tracks", len(registry.Tracks))
	}
}
