package renderer

import (
	"sync"

	"github.com/odvcencio/visitbridge/pkg/dispatch"
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/metrics"
)

// Listener receives lifecycle signals on the owner context.
type Listener interface {
	LoadStarted(url string)
	LoadFinished(url string)
	LoadFailed(err LoadError)
	// NavigationIntercepted reports whether the session took the navigation.
	NavigationIntercepted(url string) bool
}

// Observer implements Events by posting every callback to the owner
// context before calling the Listener.
type Observer struct {
	exec     dispatch.Executor
	listener Listener
	logger   *logging.Logger
	metrics  *metrics.Collectors

	mu     sync.RWMutex
	closed bool
}

// ObserverOption configures an Observer.
type ObserverOption func(*Observer)

// WithObserverLogger sets the logger.
func WithObserverLogger(logger *logging.Logger) ObserverOption {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserverMetrics records renderer errors on m.
func WithObserverMetrics(m *metrics.Collectors) ObserverOption {
	return func(o *Observer) { o.metrics = m }
}

// NewObserver creates an observer forwarding to listener through exec.
func NewObserver(exec dispatch.Executor, listener Listener, opts ...ObserverOption) *Observer {
	o := &Observer{exec: exec, listener: listener, logger: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close stops forwarding. Intercepts arriving after Close are released to
// the renderer unhandled.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

func (o *Observer) post(fn func()) bool {
	o.mu.RLock()
	closed := o.closed
	o.mu.RUnlock()
	if closed {
		return false
	}
	if err := o.exec.Post(fn); err != nil {
		o.logger.Debug("dropping renderer event", "error", err)
		return false
	}
	return true
}

// PageStarted implements Events.
func (o *Observer) PageStarted(url string) {
	o.post(func() { o.listener.LoadStarted(url) })
}

// PageFinished implements Events.
func (o *Observer) PageFinished(url string) {
	o.post(func() { o.listener.LoadFinished(url) })
}

// ReceivedError implements Events.
func (o *Observer) ReceivedError(code int, description, url string) {
	o.metrics.RendererError()
	o.logger.RendererError(code, description, url, true)
	loadErr := LoadError{Code: code, Description: description, URL: url}
	o.post(func() { o.listener.LoadFailed(loadErr) })
}

// ReceivedHTTPError implements Events. Only main-frame responses are
// forwarded; sub-resource failures do not affect the session.
func (o *Observer) ReceivedHTTPError(status int, url string, mainFrame bool) {
	o.logger.RendererError(status, "http error", url, mainFrame)
	if !mainFrame {
		return
	}
	o.metrics.RendererError()
	loadErr := LoadError{Code: status, Description: "http error", URL: url, HTTP: true}
	o.post(func() { o.listener.LoadFailed(loadErr) })
}

// ShouldOverride implements Events.
func (o *Observer) ShouldOverride(url string, resolve func(handled bool)) {
	if resolve == nil {
		resolve = func(bool) {}
	}
	posted := o.post(func() {
		resolve(o.listener.NavigationIntercepted(url))
	})
	if !posted {
		resolve(false)
	}
}
