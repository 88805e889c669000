package mot

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type mapExtractor struct {
	embeddings map[int64][]float64
	failures   map[int64]error
	calls      []int64
	block      bool
}

func (e *mapExtractor) Extract(ctx context.Context, _ *Frame, trackID int64, _ image.Rectangle) ([]float64, error) {
	e.calls = append(e.calls, trackID)
	if e.block {
		select {}
	}
	if err, ok := e.failures[trackID]; ok {
		return nil, err
	}
	return e.embeddings[trackID], nil
}

// firstComponentMatcher treats first embedding component as gallery index
type firstComponentMatcher struct {
	entries []Match
}

func (m firstComponentMatcher) Match(embedding []float64, _ float64) (Match, bool) {
	idx := int(embedding[0])
	if idx < 0 || idx >= len(m.entries) {
		return Match{}, false
	}
	return m.entries[idx], true
}

func tracksAt(n int) []*Track {
	tracks := make([]*Track, n)
	for i := range tracks {
		tracks[i] = NewTrack(int64(i+1), NewRect(float64(i)*100, 0, 50, 100), testEpoch, DefaultParams().Track)
	}
	return tracks
}

func TestIdentitySchedulerBudget(t *testing.T) {
	extractor := &mapExtractor{embeddings: map[int64][]float64{}}
	scheduler := NewIdentityScheduler(extractor, firstComponentMatcher{}, DefaultParams().Identity)
	tracks := tracksAt(5)
	// Tracks 4 and 5 have been waiting the longest
	for i, track := range tracks {
		track.MarkChecked(testEpoch.Add(time.Duration(5-i) * time.Second))
	}

	frame := &Frame{Index: 1, Timestamp: testEpoch.Add(10 * time.Second), Width: 1280, Height: 720}
	report, err := scheduler.Run(context.Background(), frame, tracks)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 3 {
		t.Errorf("Expected 3 checks, got %d", report.Checked)
	}
	expected := []int64{5, 4, 3}
	if len(extractor.calls) != len(expected) {
		t.Fatalf("Expected calls %v, got %v", expected, extractor.calls)
	}
	for i := range expected {
		if extractor.calls[i] != expected[i] {
			t.Errorf("Expected calls %v, got %v", expected, extractor.calls)
			break
		}
	}
	if !tracks[4].GetIdentity().LastCheckTime.Equal(frame.Timestamp) {
		t.Error("Checked track should record check time")
	}
	if tracks[0].GetIdentity().LastCheckTime.Equal(frame.Timestamp) {
		t.Error("Unchecked track should keep previous check time")
	}
}

func TestIdentitySchedulerAppliesMatch(t *testing.T) {
	extractor := &mapExtractor{embeddings: map[int64][]float64{1: {0}, 2: {1}, 3: {5}}}
	matcher := firstComponentMatcher{entries: []Match{
		{Name: "Alice", Role: RoleStaff, Score: 0.8},
		{Name: "Mallory", Role: RoleSuspect, Score: 0.7},
	}}
	sink := &recordingSink{}
	notifier := &countingNotifier{}
	gate := NewAlertGate(notifier, 2*time.Second, WithGateClock(newFakeClock(testEpoch)))
	scheduler := NewIdentityScheduler(extractor, matcher, DefaultParams().Identity, WithIdentityEventSink(sink), WithIdentityAlertGate(gate))

	tracks := tracksAt(3)
	tracks[0].AddSuspicion(40, AlertLoitering)
	frame := &Frame{Index: 1, Timestamp: testEpoch, Width: 1280, Height: 720}
	report, err := scheduler.Run(context.Background(), frame, tracks)
	if err != nil {
		t.Fatal(err)
	}
	gate.Wait()

	if len(report.Identified) != 2 {
		t.Errorf("Expected 2 identified tracks, got %v", report.Identified)
	}
	if tracks[0].GetRole() != RoleStaff || tracks[0].GetSuspicionScore() != 0 || len(tracks[0].GetAlerts()) != 0 {
		t.Errorf("Staff override not applied: %+v %v", tracks[0].GetIdentity(), tracks[0].GetAlerts())
	}
	if tracks[1].GetRole() != RoleSuspect || tracks[1].GetSuspicionScore() != MaxSuspicionScore {
		t.Errorf("Suspect override not applied: %+v", tracks[1].GetIdentity())
	}
	if tracks[2].GetIdentity().Confirmed || tracks[2].GetRole() != RoleVisitor {
		t.Errorf("Unmatched track should stay unidentified, got %+v", tracks[2].GetIdentity())
	}
	events := sink.ofType(EventIdentified)
	if len(events) != 2 || events[1].Details["role"] != "Suspect" || events[1].Details["name"] != "Mallory" {
		t.Errorf("Unexpected IDENTIFIED events %+v", events)
	}
	if notifier.calls.Load() != 1 {
		t.Errorf("Suspect identification should trigger alert, got %d", notifier.calls.Load())
	}

	// Confirmed tracks are rechecked only on interval frames after RecheckInterval
	extractor.calls = nil
	frame = &Frame{Index: 2, Timestamp: testEpoch.Add(2 * time.Second), Width: 1280, Height: 720}
	if _, err := scheduler.Run(context.Background(), frame, tracks[:2]); err != nil {
		t.Fatal(err)
	}
	if len(extractor.calls) != 0 {
		t.Errorf("Confirmed tracks should wait for interval frame, got calls %v", extractor.calls)
	}
	frame = &Frame{Index: 3, Timestamp: testEpoch.Add(2 * time.Second), Width: 1280, Height: 720}
	if _, err := scheduler.Run(context.Background(), frame, tracks[:2]); err != nil {
		t.Fatal(err)
	}
	if len(extractor.calls) != 2 {
		t.Errorf("Expected recheck on interval frame, got calls %v", extractor.calls)
	}
	if len(sink.ofType(EventIdentified)) != 2 {
		t.Error("Unchanged identity should not emit IDENTIFIED again")
	}
}

func TestIdentitySchedulerSkipsEmptyCrop(t *testing.T) {
	extractor := &mapExtractor{}
	scheduler := NewIdentityScheduler(extractor, firstComponentMatcher{}, DefaultParams().Identity)
	track := NewTrack(1, NewRectFromCorners(1300, 0, 1400, 100), testEpoch, DefaultParams().Track)
	report, err := scheduler.Run(context.Background(), &Frame{Index: 1, Timestamp: testEpoch, Width: 1280, Height: 720}, []*Track{track})
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 1 || len(extractor.calls) != 0 {
		t.Errorf("Empty crop should consume budget without calling extractor: %+v %v", report, extractor.calls)
	}
}

func TestIdentitySchedulerBreaker(t *testing.T) {
	params := DefaultParams().Identity
	params.BreakerThreshold = 2
	params.BreakerCooldown = 10 * time.Second
	extractor := &mapExtractor{failures: map[int64]error{
		1: errors.New("model crashed"),
		2: errors.New("model crashed"),
		3: errors.New("model crashed"),
	}}
	scheduler := NewIdentityScheduler(extractor, firstComponentMatcher{}, params)
	tracks := tracksAt(3)

	frame := &Frame{Index: 1, Timestamp: testEpoch}
	report, err := scheduler.Run(context.Background(), frame, tracks)
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Expected breaker to open, got %v", err)
	}
	if report.Failed != 2 {
		t.Errorf("Expected 2 failures before opening, got %d", report.Failed)
	}

	extractor.calls = nil
	_, err = scheduler.Run(context.Background(), &Frame{Index: 2, Timestamp: testEpoch.Add(5 * time.Second)}, tracks)
	if !errors.Is(err, ErrBreakerOpen) || len(extractor.calls) != 0 {
		t.Errorf("Open breaker should skip checks, got %v calls %v", err, extractor.calls)
	}

	extractor.failures = nil
	_, err = scheduler.Run(context.Background(), &Frame{Index: 3, Timestamp: testEpoch.Add(11 * time.Second)}, tracks)
	if err != nil {
		t.Errorf("Breaker should close after cooldown, got %v", err)
	}
	if len(extractor.calls) == 0 {
		t.Error("Checks should resume after cooldown")
	}
}

func TestIdentitySchedulerTimeout(t *testing.T) {
	params := DefaultParams().Identity
	params.CheckTimeout = 20 * time.Millisecond
	params.MaxChecksPerFrame = 1
	extractor := &mapExtractor{block: true}
	scheduler := NewIdentityScheduler(extractor, firstComponentMatcher{}, params)

	start := time.Now()
	report, err := scheduler.Run(context.Background(), &Frame{Index: 1, Timestamp: testEpoch}, tracksAt(1))
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Errorf("Blocked extractor should count as failure, got %+v", report)
	}
	if time.Since(start) > time.Second {
		t.Error("Timeout did not bound the check")
	}
}
