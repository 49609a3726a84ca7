// Package bridge implements the two-way message channel between native code
// and the script environment running inside the renderer.
//
// Outbound calls are encoded as script and handed to a ScriptRunner in the
// order they were sent. Inbound calls arrive as Messages addressed to a
// named endpoint; the built-in endpoint belongs to the visit session and
// extra endpoints can be registered by the host.
package bridge

import (
	"encoding/json"
	"sort"
	"sync"

	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/metrics"
)

// NativeEndpoint is the reserved name of the built-in endpoint.
const NativeEndpoint = "TurbolinksNative"

// ScriptRunner evaluates script on the renderer's own turn. Implementations
// must evaluate scripts in the order EvaluateScript was called. result may
// be nil; when set it receives the evaluation result as a string.
type ScriptRunner interface {
	EvaluateScript(script string, result func(value string))
}

// Message is an inbound call from the script environment.
type Message struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Args     Args   `json:"args,omitempty"`
}

// Handler receives inbound messages for one endpoint.
type Handler interface {
	HandleMessage(msg Message)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(msg Message)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(msg Message) { f(msg) }

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records bridge traffic on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Channel) { c.metrics = m }
}

// Channel is the bridge between one session and its renderer.
type Channel struct {
	sendMu sync.Mutex
	runner ScriptRunner

	mu        sync.RWMutex
	native    Handler
	endpoints map[string]Handler

	logger  *logging.Logger
	metrics *metrics.Collectors
}

// NewChannel creates a channel whose built-in endpoint is served by native.
func NewChannel(native Handler, opts ...Option) *Channel {
	c := &Channel{
		native:    native,
		endpoints: make(map[string]Handler),
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches the channel to a renderer. Passing nil detaches it; sends
// made while detached are dropped.
func (c *Channel) Bind(runner ScriptRunner) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.runner = runner
}

// Bound reports whether a renderer is attached.
func (c *Channel) Bound() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.runner != nil
}

// Send invokes function on the page's bridge receiver. It is fire-and-forget;
// calls from one goroutine reach the renderer in the order they were made.
func (c *Channel) Send(function string, args ...any) error {
	return c.Call(Receiver+"."+function, args...)
}

// Call invokes an arbitrary global function with JSON-encoded arguments.
func (c *Channel) Call(function string, args ...any) error {
	script, err := EncodeCall(function, args...)
	if err != nil {
		return err
	}
	c.logger.BridgeCall(function, len(args))
	c.metrics.BridgeCall(function)
	c.eval(script, nil)
	return nil
}

// Eval runs raw script. The caller is responsible for escaping.
func (c *Channel) Eval(script string, result func(value string)) {
	c.eval(script, result)
}

// eval hands script to the bound runner. The lock is not held during
// EvaluateScript so runners may complete synchronously and re-enter Send.
func (c *Channel) eval(script string, result func(value string)) {
	c.sendMu.Lock()
	runner := c.runner
	c.sendMu.Unlock()
	if runner == nil {
		c.logger.Debug("bridge detached, dropping script")
		return
	}
	runner.EvaluateScript(script, result)
}

// Inject installs the bridge asset into the current page. done receives
// true once the loader reports that the script element was appended.
func (c *Channel) Inject(done func(injected bool)) {
	c.eval(InjectionScript(), func(value string) {
		if done != nil {
			done(value == "true")
		}
	})
}

// RegisterEndpoint exposes handler to the script environment under name.
// The built-in name is rejected; registering an existing name again is a
// no-op and keeps the first handler.
func (c *Channel) RegisterEndpoint(name string, handler Handler) error {
	if name == NativeEndpoint {
		return vberrors.ReservedName(name)
	}
	if name == "" || handler == nil {
		return vberrors.New(vberrors.ErrCodeConfiguration, "endpoint name and handler are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.endpoints[name]; exists {
		return nil
	}
	c.endpoints[name] = handler
	c.logger.EndpointRegistered(name)
	return nil
}

// Endpoints lists the names of registered extra endpoints.
func (c *Channel) Endpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Deliver routes an inbound message to its endpoint. Messages without an
// endpoint go to the built-in one.
func (c *Channel) Deliver(msg Message) error {
	if msg.Endpoint == "" {
		msg.Endpoint = NativeEndpoint
	}
	c.metrics.BridgeMessage(msg.Method)

	c.mu.RLock()
	var handler Handler
	if msg.Endpoint == NativeEndpoint {
		handler = c.native
	} else {
		handler = c.endpoints[msg.Endpoint]
	}
	c.mu.RUnlock()

	if handler == nil {
		return vberrors.Newf(vberrors.ErrCodeBridgeDecode, "no endpoint named %q", msg.Endpoint).
			WithContext("method", msg.Method)
	}
	handler.HandleMessage(msg)
	return nil
}

// DecodeMessage parses a JSON-encoded inbound message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, vberrors.Wrap(err, vberrors.ErrCodeBridgeDecode, "invalid bridge message")
	}
	if msg.Method == "" {
		return Message{}, vberrors.New(vberrors.ErrCodeBridgeDecode, "bridge message has no method")
	}
	return msg, nil
}
