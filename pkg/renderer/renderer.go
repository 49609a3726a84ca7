// Package renderer defines the embedded renderer surface a session drives
// and the lifecycle observer that turns renderer callbacks into signals on
// the session's owner context.
package renderer

import (
	"errors"

	"github.com/odvcencio/visitbridge/pkg/bridge"
)

var (
	ErrDetached      = errors.New("renderer surface detached")
	ErrNoSnapshot    = errors.New("renderer cannot produce a snapshot")
	ErrSurfaceClosed = errors.New("renderer surface closed")
)

// Surface is the renderer a session owns. Loads and script evaluation are
// asynchronous; results come back through Events and the MessageSink.
type Surface interface {
	bridge.ScriptRunner

	// Load performs a full page load of url.
	Load(url string)
	// Snapshot returns a still image (PNG) of the current content.
	Snapshot() ([]byte, error)
	// Attach routes lifecycle events and inbound bridge messages to a new
	// owner. Only one owner is attached at a time.
	Attach(events Events, messages MessageSink)
	// Detach stops routing to the current owner.
	Detach()
}

// EndpointExposer is implemented by surfaces that can publish extra bridge
// endpoints to the page.
type EndpointExposer interface {
	ExposeEndpoint(name string)
}

// MessageSink accepts inbound bridge messages. *bridge.Channel implements it.
type MessageSink interface {
	Deliver(msg bridge.Message) error
}

// Events are the raw lifecycle callbacks a surface reports. They may be
// called from any goroutine.
type Events interface {
	PageStarted(url string)
	PageFinished(url string)
	ReceivedError(code int, description, url string)
	ReceivedHTTPError(status int, url string, mainFrame bool)
	// ShouldOverride asks whether a link navigation inside the content is
	// taken over by the session. The surface pauses the navigation until
	// resolve is called; resolve(false) lets the renderer load url itself.
	ShouldOverride(url string, resolve func(handled bool))
}

// LoadError describes a renderer-level load failure.
type LoadError struct {
	Code        int
	Description string
	URL         string
	// HTTP is set when Code is an HTTP status rather than a network error.
	HTTP bool
}
