package visit

import (
	"github.com/odvcencio/visitbridge/pkg/renderer"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

// lifecycle receives renderer signals on the owner context.
type lifecycle struct{ s *Session }

var _ renderer.Listener = lifecycle{}

func (l lifecycle) LoadStarted(url string) {
	s := l.s
	if s.closed {
		return
	}
	if s.state == Uninitialized {
		s.state = ColdBooting
	}
	s.coldBootInProgress = true
	s.logger.Debug("page started", "url", url)
}

func (l lifecycle) LoadFinished(url string) {
	s := l.s
	if s.closed || s.bridgeInjected {
		return
	}
	s.channel.Inject(func(injected bool) {
		_ = s.exec.Post(func() {
			if !s.closed {
				s.bridgeInjected = injected
			}
		})
	})
	s.logger.Debug("page finished", "url", url)
	s.publish(telemetry.EventPageFinished, map[string]any{"url": url})
	s.notify("onPageFinished")
	s.withAdapter(Adapter.OnPageFinished)
}

func (l lifecycle) LoadFailed(err renderer.LoadError) {
	s := l.s
	if s.closed {
		return
	}
	s.reset()
	s.publish(telemetry.EventRendererError, map[string]any{
		"code":        err.Code,
		"description": err.Description,
		"url":         err.URL,
		"http":        err.HTTP,
	})
	s.notify("onReceivedError")
	s.withAdapter(func(a Adapter) { a.OnReceivedError(err.Code) })
}

// NavigationIntercepted takes over link navigations once the page is ready.
// During a cold boot the renderer follows the link itself, which covers
// redirects. Repeats inside the intercept window are swallowed.
func (l lifecycle) NavigationIntercepted(url string) bool {
	s := l.s
	if s.closed || s.state != Ready || s.coldBootInProgress {
		return false
	}
	if !s.interceptGate.AllowN(s.clock.Now(), 1) {
		s.logger.Debug("duplicate intercept ignored", "url", url)
		return true
	}
	s.proposeVisit(url, ActionAdvance)
	return true
}
