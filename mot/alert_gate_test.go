package mot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingNotifier struct {
	calls atomic.Int32
	err   error
}

func (n *countingNotifier) Notify(context.Context) error {
	n.calls.Add(1)
	return n.err
}

func TestAlertGateCooldown(t *testing.T) {
	clock := newFakeClock(testEpoch)
	notifier := &countingNotifier{}
	gate := NewAlertGate(notifier, 2*time.Second, WithGateClock(clock))

	if !gate.Trigger() {
		t.Error("First trigger should dispatch")
	}
	clock.Advance(500 * time.Millisecond)
	if gate.Trigger() {
		t.Error("Trigger within cooldown should be suppressed")
	}
	gate.Wait()
	if notifier.calls.Load() != 1 {
		t.Errorf("Expected 1 notification, got %d", notifier.calls.Load())
	}

	clock.Advance(3 * time.Second)
	if !gate.Trigger() {
		t.Error("Trigger after cooldown should dispatch")
	}
	gate.Wait()
	if notifier.calls.Load() != 2 {
		t.Errorf("Expected 2 notifications, got %d", notifier.calls.Load())
	}
	if !gate.LastTriggered().Equal(testEpoch.Add(3500 * time.Millisecond)) {
		t.Errorf("Unexpected last trigger time %v", gate.LastTriggered())
	}
}

func TestAlertGateSwallowsFailures(t *testing.T) {
	clock := newFakeClock(testEpoch)
	failing := &countingNotifier{err: errors.New("alert sound missing")}
	gate := NewAlertGate(failing, 2*time.Second, WithGateClock(clock), WithGateMetrics(NewMetrics()))
	if !gate.Trigger() {
		t.Error("Failing notifier should still be dispatched")
	}
	gate.Wait()

	panicking := NotifierFunc(func(context.Context) error {
		panic("audio device gone")
	})
	gate = NewAlertGate(panicking, 2*time.Second, WithGateClock(clock))
	gate.Trigger()
	gate.Wait()
}

func TestAlertGateDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	slow := NotifierFunc(func(context.Context) error {
		<-release
		return nil
	})
	gate := NewAlertGate(slow, time.Second)

	done := make(chan struct{})
	go func() {
		gate.Trigger()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on slow notifier")
	}
	close(release)
	gate.Wait()
}

func TestAlertGateConcurrentTriggers(t *testing.T) {
	clock := newFakeClock(testEpoch)
	notifier := &countingNotifier{}
	gate := NewAlertGate(notifier, 2*time.Second, WithGateClock(clock))

	var dispatched atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if gate.Trigger() {
				dispatched.Add(1)
			}
		}()
	}
	wg.Wait()
	gate.Wait()
	if dispatched.Load() != 1 || notifier.calls.Load() != 1 {
		t.Errorf("Expected exactly one dispatch, got %d (notified %d)", dispatched.Load(), notifier.calls.Load())
	}
}

func TestFrameClock(t *testing.T) {
	clock := NewFrameClock()
	if clock.Now().IsZero() {
		t.Error("Clock without frames should fall back to wall clock")
	}
	clock.Observe(testEpoch)
	if !clock.Now().Equal(testEpoch) {
		t.Errorf("Expected %v, got %v", testEpoch, clock.Now())
	}
	clock.Observe(testEpoch.Add(-time.Second))
	if !clock.Now().Equal(testEpoch) {
		t.Errorf("Clock should never go backwards, got %v", clock.Now())
	}
}
