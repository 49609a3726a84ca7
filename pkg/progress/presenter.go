// Package progress sequences the loading affordance shown while a visit is
// in flight and hosts the renderer surface for one screen.
//
// Presenter and Stage are not safe for concurrent use; call them on the
// owner context of the session that drives them.
package progress

import (
	"time"

	"github.com/odvcencio/visitbridge/pkg/dispatch"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

// DefaultDelay is how long the indicator stays hidden after Show.
const DefaultDelay = 500 * time.Millisecond

// Affordance is the host's loading overlay.
type Affordance interface {
	// AttachAffordance covers the content. The indicator starts hidden.
	AttachAffordance()
	SetIndicatorVisible(visible bool)
	DetachAffordance()
}

// Presenter shows an Affordance with a delayed indicator.
type Presenter struct {
	exec       dispatch.Executor
	clock      dispatch.Clock
	affordance Affordance
	events     telemetry.Publisher

	shown      bool
	indicator  bool
	generation uint64
	timer      dispatch.Timer
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// WithClock sets the clock used for the indicator delay.
func WithClock(clock dispatch.Clock) PresenterOption {
	return func(p *Presenter) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithEvents publishes progress.shown and progress.hidden events.
func WithEvents(pub telemetry.Publisher) PresenterOption {
	return func(p *Presenter) { p.events = pub }
}

// NewPresenter creates a presenter. Timer callbacks are posted to exec.
func NewPresenter(exec dispatch.Executor, affordance Affordance, opts ...PresenterOption) *Presenter {
	p := &Presenter{exec: exec, clock: dispatch.RealClock{}, affordance: affordance}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Show attaches the affordance now and reveals the indicator once delay has
// elapsed, unless Hide is called first. Showing again restarts the delay.
func (p *Presenter) Show(delay time.Duration) {
	p.Hide()

	p.shown = true
	p.indicator = false
	p.generation++
	p.affordance.AttachAffordance()
	p.affordance.SetIndicatorVisible(false)
	p.publish(telemetry.EventProgressShown, delay)

	if delay <= 0 {
		p.revealIndicator(p.generation)
		return
	}
	gen := p.generation
	p.timer = p.clock.AfterFunc(delay, func() {
		_ = p.exec.Post(func() { p.revealIndicator(gen) })
	})
}

// Hide removes the affordance. It is idempotent.
func (p *Presenter) Hide() {
	if !p.shown {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.generation++
	p.shown = false
	p.indicator = false
	p.affordance.DetachAffordance()
	p.publish(telemetry.EventProgressHidden, 0)
}

// Shown reports whether the affordance is attached.
func (p *Presenter) Shown() bool { return p.shown }

// IndicatorVisible reports whether the delayed indicator has been revealed.
func (p *Presenter) IndicatorVisible() bool { return p.indicator }

func (p *Presenter) revealIndicator(gen uint64) {
	if !p.shown || gen != p.generation {
		return
	}
	p.indicator = true
	p.affordance.SetIndicatorVisible(true)
}

func (p *Presenter) publish(kind telemetry.EventType, delay time.Duration) {
	if p.events == nil {
		return
	}
	var data map[string]any
	if delay > 0 {
		data = map[string]any{"delay_ms": delay.Milliseconds()}
	}
	p.events.Publish(telemetry.Event{Type: kind, Data: data})
}
