package mot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier performs alert side effect (alarm sound, push message, etc.).
// It may be slow: AlertGate always calls it from a separate goroutine.
type Notifier interface {
	Notify(ctx context.Context) error
}

// NotifierFunc adapts function to Notifier
type NotifierFunc func(ctx context.Context) error

// Notify calls f(ctx)
func (f NotifierFunc) Notify(ctx context.Context) error {
	return f(ctx)
}

// AlertGate throttles notifications: at most one dispatch per cooldown window.
// It is safe for concurrent use.
type AlertGate struct {
	mu            sync.Mutex
	lastTriggered time.Time
	cooldown      time.Duration
	notifier      Notifier
	clock         Clock
	logger        zerolog.Logger
	metrics       *Metrics
	inflight      sync.WaitGroup
}

// AlertGateOption configures AlertGate
type AlertGateOption func(*AlertGate)

// WithGateClock overrides wall clock
func WithGateClock(clock Clock) AlertGateOption {
	return func(g *AlertGate) {
		g.clock = clock
	}
}

// WithGateLogger sets logger
func WithGateLogger(logger zerolog.Logger) AlertGateOption {
	return func(g *AlertGate) {
		g.logger = logger
	}
}

// WithGateMetrics sets metrics
func WithGateMetrics(metrics *Metrics) AlertGateOption {
	return func(g *AlertGate) {
		g.metrics = metrics
	}
}

// NewAlertGate creates gate in front of notifier
func NewAlertGate(notifier Notifier, cooldown time.Duration, options ...AlertGateOption) *AlertGate {
	gate := &AlertGate{
		cooldown: cooldown,
		notifier: notifier,
		clock:    SystemClock,
		logger:   zerolog.Nop(),
	}
	for _, option := range options {
		option(gate)
	}
	return gate
}

// Trigger dispatches notification unless previous dispatch happened less than cooldown ago.
// Returns true if notification has been dispatched. Never blocks on the notifier.
func (g *AlertGate) Trigger() bool {
	now := g.clock.Now()
	g.mu.Lock()
	if !g.lastTriggered.IsZero() && now.Sub(g.lastTriggered) < g.cooldown {
		g.mu.Unlock()
		g.metrics.alertTrigger("suppressed")
		return false
	}
	g.lastTriggered = now
	g.inflight.Add(1)
	g.mu.Unlock()

	g.metrics.alertTrigger("dispatched")
	go g.dispatch()
	return true
}

// LastTriggered returns time of the latest dispatch (zero if none)
func (g *AlertGate) LastTriggered() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastTriggered
}

// Wait blocks until every dispatched notification returns
func (g *AlertGate) Wait() {
	g.inflight.Wait()
}

func (g *AlertGate) dispatch() {
	defer g.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			g.metrics.notifyFailed()
			g.logger.Error().Str("panic", fmt.Sprint(r)).Msg("Alert notifier panicked")
		}
	}()
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Notify(context.Background()); err != nil {
		g.metrics.notifyFailed()
		g.logger.Error().Err(err).Msg("Alert notification failed")
		return
	}
	g.logger.Info().Msg("Alert notification dispatched")
}
