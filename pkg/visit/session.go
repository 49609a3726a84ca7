// Package visit implements the visit session: the state machine that owns a
// renderer surface, decides between cold boots and in-page visits, and
// correlates the asynchronous bridge messages of each visit.
//
// Session state belongs to one owner context (a dispatch.Executor). Renderer
// events and bridge messages are posted there before they touch state. Host
// entry points such as Visit must themselves be called on the owner
// context, either from an Adapter callback or through Session.Do.
package visit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/odvcencio/visitbridge/pkg/bridge"
	"github.com/odvcencio/visitbridge/pkg/dispatch"
	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/metrics"
	"github.com/odvcencio/visitbridge/pkg/progress"
	"github.com/odvcencio/visitbridge/pkg/renderer"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
	"github.com/odvcencio/visitbridge/pkg/tracing"
)

// Session is one visit session bound to one renderer surface.
type Session struct {
	id       string
	settings Settings

	exec    dispatch.Executor
	clock   dispatch.Clock
	logger  *logging.Logger
	metrics *metrics.Collectors
	tracer  trace.Tracer
	events  telemetry.Publisher

	channel  *bridge.Channel
	observer *renderer.Observer
	mount    *progress.Mount

	adapter    Adapter
	contextKey ContextKey
	stage      *progress.Stage
	presenter  *progress.Presenter

	location            string
	currentVisitID      string
	currentAction       Action
	state               ReadyState
	coldBootInProgress  bool
	bridgeInjected      bool
	restoreWithSnapshot bool
	restorationIDs      map[ContextKey]string
	interceptGate       *rate.Limiter

	visitSpan    trace.Span
	visitStarted time.Time
	closed       bool
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session id used in logs, metrics and events.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithSettings replaces the default settings.
func WithSettings(settings Settings) Option {
	return func(s *Session) { s.settings = settings }
}

// WithExecutor sets the owner context. The default runs work immediately on
// the calling goroutine.
func WithExecutor(exec dispatch.Executor) Option {
	return func(s *Session) {
		if exec != nil {
			s.exec = exec
		}
	}
}

// WithClock sets the clock used for progress delays and intercept gating.
func WithClock(clock dispatch.Clock) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records session metrics on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTracer records one span per visit.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithEvents publishes lifecycle events to pub.
func WithEvents(pub telemetry.Publisher) Option {
	return func(s *Session) { s.events = pub }
}

// New creates a session that owns surface. The surface is attached to the
// session immediately; a surface may only be attached to one session.
func New(surface renderer.Surface, opts ...Option) (*Session, error) {
	if surface == nil {
		return nil, vberrors.Configuration("renderer surface", "pass a renderer.Surface to visit.New")
	}
	s := &Session{
		settings:       DefaultSettings(),
		exec:           dispatch.NewImmediate(),
		clock:          dispatch.RealClock{},
		logger:         logging.Nop(),
		tracer:         tracing.Noop(),
		restorationIDs: make(map[ContextKey]string),
		mount:          progress.NewMount(surface),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithSession(s.id)
	s.interceptGate = newInterceptGate(s.settings.InterceptWindow)

	s.channel = bridge.NewChannel(
		bridge.HandlerFunc(s.receive),
		bridge.WithLogger(s.logger),
		bridge.WithMetrics(s.metrics),
	)
	s.observer = renderer.NewObserver(
		s.exec,
		lifecycle{s},
		renderer.WithObserverLogger(s.logger),
		renderer.WithObserverMetrics(s.metrics),
	)
	surface.Attach(s.observer, s.channel)
	s.channel.Bind(surface)

	s.metrics.SessionOpened()
	s.publish(telemetry.EventSessionCreated, nil)
	return s, nil
}

func newInterceptGate(window time.Duration) *rate.Limiter {
	if window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window), 1)
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Executor returns the session's owner context.
func (s *Session) Executor() dispatch.Executor { return s.exec }

// Surface returns the renderer surface owned by the session.
func (s *Session) Surface() renderer.Surface { return s.mount.Surface() }

// Do runs fn on the owner context and waits for it to return or for ctx to
// end. fn is skipped if ctx has ended by the time the owner reaches it. Do
// must not be called from the owner context itself.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, s, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Call is Do for work that produces a value. The value is handed back over
// the result channel, never through variables shared with fn.
func Call[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T
	done := make(chan result, 1)
	work := func() {
		if err := ctx.Err(); err != nil {
			done <- result{err: err}
			return
		}
		value, err := fn()
		done <- result{value: value, err: err}
	}
	if err := s.exec.Post(work); err != nil {
		return zero, vberrors.Wrap(err, vberrors.ErrCodeInternal, "owner context unavailable").
			WithContext("session_id", s.id)
	}
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// BindContext sets the navigation context that initiates visits.
func (s *Session) BindContext(key ContextKey) *Session {
	s.contextKey = key
	return s
}

// BindAdapter sets the host callback set.
func (s *Session) BindAdapter(adapter Adapter) *Session {
	s.adapter = adapter
	return s
}

// BindStage makes stage host the renderer surface. When the surface moves
// away from another stage, that stage keeps a snapshot if screenshots are
// enabled. The snapshot arrives on the owner context after BindStage
// returns.
func (s *Session) BindStage(stage *progress.Stage) *Session {
	s.stage = stage
	if stage == nil {
		return s
	}
	if s.presenter != nil {
		stage.SetPresenter(s.presenter)
	}
	stage.Attach(s.mount, s.settings.Screenshots, s.exec)
	return s
}

// SetProgress overrides the progress presenter and its indicator delay.
func (s *Session) SetProgress(presenter *progress.Presenter, delay time.Duration) *Session {
	s.presenter = presenter
	s.settings.ProgressDelay = delay
	if s.stage != nil && presenter != nil {
		s.stage.SetPresenter(presenter)
	}
	return s
}

// RestoreWithCachedSnapshot makes the next visit a restore. It is reset
// after every Visit.
func (s *Session) RestoreWithCachedSnapshot(restore bool) *Session {
	s.restoreWithSnapshot = restore
	return s
}

// Visit navigates to location. A ready session asks the page for an
// in-page visit; otherwise the renderer cold boots location unless a cold
// boot is already underway, in which case location becomes the target
// visited once the page reports ready.
func (s *Session) Visit(location string) error {
	if err := s.validate(location); err != nil {
		return err
	}
	defer func() { s.restoreWithSnapshot = false }()

	s.location = location
	action := s.nextAction()
	s.logger.VisitRequested(location, string(action), s.state.String())
	s.metrics.VisitRequested(string(action))
	s.publish(telemetry.EventVisitRequested, map[string]any{"action": string(action), "ready_state": s.state.String()})

	s.stage.ShowProgress(s.settings.ProgressDelay)

	switch {
	case s.state == Ready:
		s.visitCurrentLocation()
	case !s.coldBootInProgress:
		s.coldBoot()
	}
	return nil
}

func (s *Session) validate(location string) error {
	switch {
	case s.closed:
		return vberrors.New(vberrors.ErrCodeConfiguration, "session is closed").WithContext("session_id", s.id)
	case s.contextKey == "":
		return vberrors.Configuration("navigation context", "call BindContext before Visit")
	case s.adapter == nil:
		return vberrors.Configuration("adapter", "call BindAdapter before Visit")
	case s.stage == nil:
		return vberrors.Configuration("presentation stage", "call BindStage before Visit")
	case location == "":
		return vberrors.Configuration("location", "Visit needs a non-empty location")
	case bridge.EncodeLocation(location) == "":
		return vberrors.New(vberrors.ErrCodeConfiguration, "location must be an absolute URL").
			WithContext("location", location)
	}
	return nil
}

func (s *Session) nextAction() Action {
	if s.restoreWithSnapshot {
		return ActionRestore
	}
	return ActionAdvance
}

func (s *Session) coldBoot() {
	if s.state == Uninitialized {
		s.state = ColdBooting
	}
	s.coldBootInProgress = true
	s.logger.ColdBoot(s.location)
	s.metrics.ColdBoot()
	s.publish(telemetry.EventColdBootStarted, nil)
	s.mount.Surface().Load(s.location)
}

func (s *Session) visitCurrentLocation() {
	if err := s.visitLocationWithAction(s.location, s.nextAction()); err != nil {
		s.logger.Error("failed to request in-page visit", "location", s.location, "error", err)
	}
}

// VisitLocationWithAction asks a ready page for an in-page visit without
// touching progress or cold boot state.
func (s *Session) VisitLocationWithAction(location string, action Action) error {
	return s.visitLocationWithAction(location, action)
}

func (s *Session) visitLocationWithAction(location string, action Action) error {
	s.currentAction = action
	var restorationID any
	if id, ok := s.restorationIDs[s.contextKey]; ok && id != "" {
		restorationID = id
	}
	return s.channel.Send(callVisitLocation, bridge.EncodeLocation(location), string(action), restorationID)
}

// CancelVisit asks the page to cancel the current visit.
func (s *Session) CancelVisit() error {
	if s.currentVisitID == "" {
		return nil
	}
	id := s.currentVisitID
	s.endVisitSpan("cancelled", nil)
	return s.channel.Send(callCancelVisit, id)
}

// ResetToColdBoot makes the next visit a full renderer load.
func (s *Session) ResetToColdBoot() {
	s.bridgeInjected = false
	s.coldBootInProgress = false
	if s.state == Ready {
		s.state = ColdBooting
	}
	s.publish(telemetry.EventSessionReset, nil)
}

// IsReady reports whether the page has the in-page library running.
func (s *Session) IsReady() bool { return s.state == Ready }

// State returns the ready state.
func (s *Session) State() ReadyState { return s.state }

// Location returns the latest location passed to Visit.
func (s *Session) Location() string { return s.location }

// CurrentVisitID returns the id of the visit messages must match.
func (s *Session) CurrentVisitID() string { return s.currentVisitID }

// ColdBootInProgress reports whether a full load is underway.
func (s *Session) ColdBootInProgress() bool { return s.coldBootInProgress }

// BridgeInjected reports whether the bridge script is installed in the page.
func (s *Session) BridgeInjected() bool { return s.bridgeInjected }

// RestoringWithCachedSnapshot reports the pending restore flag.
func (s *Session) RestoringWithCachedSnapshot() bool { return s.restoreWithSnapshot }

// RestorationIdentifier returns the identifier remembered for key.
func (s *Session) RestorationIdentifier(key ContextKey) (string, bool) {
	id, ok := s.restorationIDs[key]
	return id, ok
}

// RegisterEndpoint exposes an extra bridge endpoint to the page.
func (s *Session) RegisterEndpoint(name string, handler bridge.Handler) error {
	before := len(s.channel.Endpoints())
	if err := s.channel.RegisterEndpoint(name, handler); err != nil {
		return err
	}
	if len(s.channel.Endpoints()) == before {
		return nil
	}
	if exposer, ok := s.mount.Surface().(renderer.EndpointExposer); ok {
		exposer.ExposeEndpoint(name)
	}
	return nil
}

// Endpoints lists the extra endpoints registered on the session.
func (s *Session) Endpoints() []string { return s.channel.Endpoints() }

// RunJavascript calls function in the page with JSON-encoded arguments.
func (s *Session) RunJavascript(function string, args ...any) error {
	return s.channel.Call(function, args...)
}

// RunJavascriptRaw evaluates script in the page as-is.
func (s *Session) RunJavascriptRaw(script string) {
	s.channel.Eval(script, nil)
}

// Close detaches the surface so another session can own it.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.endVisitSpan("closed", nil)
	s.observer.Close()
	s.channel.Bind(nil)
	s.mount.Surface().Detach()
	if s.stage != nil {
		s.stage.HideProgress()
	}
	s.metrics.SessionClosed()
	s.publish(telemetry.EventSessionClosed, nil)
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed }

func (s *Session) reset() {
	s.ResetToColdBoot()
	s.endVisitSpan("reset", nil)
}

func (s *Session) hideProgress() {
	if s.stage != nil {
		s.stage.HideProgress()
	}
}

func (s *Session) publish(kind telemetry.EventType, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(telemetry.Event{
		Type:      kind,
		Timestamp: s.clock.Now(),
		SessionID: s.id,
		VisitID:   s.currentVisitID,
		Location:  s.location,
		Data:      data,
	})
}
