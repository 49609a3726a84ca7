// Package renderertest provides an in-memory renderer Surface that tests
// drive by hand.
package renderertest

import (
	"sync"

	"github.com/odvcencio/visitbridge/pkg/bridge"
	"github.com/odvcencio/visitbridge/pkg/bridge/bridgetest"
	"github.com/odvcencio/visitbridge/pkg/renderer"
)

// Surface records loads and scripts and lets tests fire lifecycle events
// and inbound bridge messages at whichever owner is attached.
type Surface struct {
	*bridgetest.Recorder

	mu        sync.Mutex
	loads     []string
	events    renderer.Events
	messages  renderer.MessageSink
	attaches  int
	detaches  int
	exposed   []string
	snapshot  []byte
	snapErr   error
	decisions []bool
}

var (
	_ renderer.Surface         = (*Surface)(nil)
	_ renderer.EndpointExposer = (*Surface)(nil)
)

// NewSurface creates a surface whose snapshots return a fixed PNG header.
func NewSurface() *Surface {
	return &Surface{
		Recorder: bridgetest.NewRecorder(),
		snapshot: []byte("\x89PNG\r\n\x1a\n"),
	}
}

// Load implements renderer.Surface.
func (s *Surface) Load(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, url)
}

// Snapshot implements renderer.Surface.
func (s *Surface) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	return append([]byte(nil), s.snapshot...), nil
}

// SetSnapshot configures what Snapshot returns.
func (s *Surface) SetSnapshot(data []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = data
	s.snapErr = err
}

// Attach implements renderer.Surface.
func (s *Surface) Attach(events renderer.Events, messages renderer.MessageSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	s.messages = messages
	s.attaches++
}

// Detach implements renderer.Surface.
func (s *Surface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.messages = nil
	s.detaches++
}

// ExposeEndpoint implements renderer.EndpointExposer.
func (s *Surface) ExposeEndpoint(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposed = append(s.exposed, name)
}

// Loads returns every url passed to Load.
func (s *Surface) Loads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...)
}

// Exposed returns the endpoint names published to the page.
func (s *Surface) Exposed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.exposed...)
}

// Attached reports whether an owner is attached.
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events != nil
}

// AttachCounts returns how many times Attach and Detach were called.
func (s *Surface) AttachCounts() (attaches, detaches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attaches, s.detaches
}

func (s *Surface) owner() (renderer.Events, renderer.MessageSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, s.messages
}

// StartPage fires PageStarted.
func (s *Surface) StartPage(url string) {
	if events, _ := s.owner(); events != nil {
		events.PageStarted(url)
	}
}

// FinishPage fires PageFinished.
func (s *Surface) FinishPage(url string) {
	if events, _ := s.owner(); events != nil {
		events.PageFinished(url)
	}
}

// FailLoad fires ReceivedError.
func (s *Surface) FailLoad(code int, description, url string) {
	if events, _ := s.owner(); events != nil {
		events.ReceivedError(code, description, url)
	}
}

// FailHTTP fires ReceivedHTTPError.
func (s *Surface) FailHTTP(status int, url string, mainFrame bool) {
	if events, _ := s.owner(); events != nil {
		events.ReceivedHTTPError(status, url, mainFrame)
	}
}

// ClickLink fires ShouldOverride and records the decision once resolved.
func (s *Surface) ClickLink(url string) {
	events, _ := s.owner()
	if events == nil {
		return
	}
	events.ShouldOverride(url, func(handled bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.decisions = append(s.decisions, handled)
	})
}

// Decisions returns intercept decisions in resolution order.
func (s *Surface) Decisions() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.decisions...)
}

// Post delivers an inbound bridge call to the built-in endpoint.
func (s *Surface) Post(method string, args ...any) error {
	return s.PostTo(bridge.NativeEndpoint, method, args...)
}

// PostTo delivers an inbound bridge call to a named endpoint.
func (s *Surface) PostTo(endpoint, method string, args ...any) error {
	_, messages := s.owner()
	if messages == nil {
		return renderer.ErrDetached
	}
	encoded, err := bridge.NewArgs(args...)
	if err != nil {
		return err
	}
	return messages.Deliver(bridge.Message{Endpoint: endpoint, Method: method, Args: encoded})
}
