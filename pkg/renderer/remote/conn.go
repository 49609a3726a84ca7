package remote

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/visitbridge/pkg/bridge"
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/renderer"
)

// Config tunes an agent connection.
type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MailboxSize     int
	MaxMessageBytes int64
	// AllowedOrigins are accepted in addition to same-origin requests.
	AllowedOrigins []string
}

// DefaultConfig returns the connection defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:    20 * time.Second,
		WriteTimeout:    10 * time.Second,
		MailboxSize:     256,
		MaxMessageBytes: 1 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	return c
}

type snapshotResult struct {
	png []byte
	err error
}

// Conn is a renderer Surface backed by a websocket agent. It also renders
// the progress affordance and snapshot substitution on the agent side.
type Conn struct {
	id     string
	ws     *websocket.Conn
	cfg    Config
	logger *logging.Logger

	send   chan Frame
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	events    renderer.Events
	messages  renderer.MessageSink
	results   map[uint64]func(string)
	snapshots map[uint64]chan snapshotResult
	nextID    atomic.Uint64
}

var (
	_ renderer.Surface         = (*Conn)(nil)
	_ renderer.EndpointExposer = (*Conn)(nil)
)

// Accept upgrades an HTTP request into an agent connection. Call Serve to
// start exchanging frames.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config, logger *logging.Logger) (*Conn, error) {
	cfg = cfg.withDefaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, cfg, logger), nil
}

// NewConn wraps an established websocket.
func NewConn(ws *websocket.Conn, cfg Config, logger *logging.Logger) *Conn {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Conn{
		id:        id,
		ws:        ws,
		cfg:       cfg,
		logger:    logger.WithConnection(id),
		send:      make(chan Frame, cfg.MailboxSize),
		ctx:       ctx,
		cancel:    cancel,
		results:   make(map[uint64]func(string)),
		snapshots: make(map[uint64]chan snapshotResult),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Serve pumps frames until the agent disconnects, ctx ends or Close is
// called. The returned error is nil for a normal closure.
func (c *Conn) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump() })
	g.Go(func() error { return c.writePump(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.ctx.Done():
		}
		c.Close()
		return nil
	})
	err := g.Wait()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close ends the connection. Pending script results resolve to "" and
// pending snapshots fail.
func (c *Conn) Close() {
	c.cancel()
	_ = c.ws.Close()

	c.mu.Lock()
	results := c.results
	snapshots := c.snapshots
	c.results = make(map[uint64]func(string))
	c.snapshots = make(map[uint64]chan snapshotResult)
	c.mu.Unlock()

	for _, fn := range results {
		fn("")
	}
	for _, ch := range snapshots {
		ch <- snapshotResult{err: renderer.ErrSurfaceClosed}
	}
}

func (c *Conn) enqueue(f Frame) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// Load implements renderer.Surface.
func (c *Conn) Load(url string) {
	c.enqueue(Frame{Type: FrameLoad, URL: url})
}

// EvaluateScript implements bridge.ScriptRunner. result, when non-nil,
// receives the agent's string rendering of the script's value.
func (c *Conn) EvaluateScript(script string, result func(value string)) {
	f := Frame{Type: FrameEval, Script: script}
	if result != nil {
		f.ID = c.nextID.Add(1)
		c.mu.Lock()
		c.results[f.ID] = result
		c.mu.Unlock()
	}
	if !c.enqueue(f) && result != nil {
		c.mu.Lock()
		_, pending := c.results[f.ID]
		delete(c.results, f.ID)
		c.mu.Unlock()
		if pending {
			result("")
		}
	}
}

// Snapshot implements renderer.Surface. It waits up to the write timeout
// for the agent to answer.
func (c *Conn) Snapshot() ([]byte, error) {
	id := c.nextID.Add(1)
	ch := make(chan snapshotResult, 1)
	c.mu.Lock()
	c.snapshots[id] = ch
	c.mu.Unlock()

	if !c.enqueue(Frame{Type: FrameSnapshot, ID: id}) {
		c.dropSnapshot(id)
		return nil, renderer.ErrSurfaceClosed
	}

	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.png, res.err
	case <-timer.C:
		c.dropSnapshot(id)
		return nil, errors.New("snapshot timed out")
	}
}

func (c *Conn) dropSnapshot(id uint64) {
	c.mu.Lock()
	delete(c.snapshots, id)
	c.mu.Unlock()
}

// Attach implements renderer.Surface.
func (c *Conn) Attach(events renderer.Events, messages renderer.MessageSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = events
	c.messages = messages
}

// Detach implements renderer.Surface.
func (c *Conn) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.messages = nil
}

// ExposeEndpoint implements renderer.EndpointExposer.
func (c *Conn) ExposeEndpoint(name string) {
	c.enqueue(Frame{Type: FrameExpose, Name: name})
}

// AttachAffordance shows the agent's progress overlay.
func (c *Conn) AttachAffordance() {
	c.enqueue(Frame{Type: FrameProgress, State: ProgressAttach})
}

// SetIndicatorVisible toggles the spinner inside the overlay.
func (c *Conn) SetIndicatorVisible(visible bool) {
	c.enqueue(Frame{Type: FrameProgress, State: ProgressIndicator, Visible: visible})
}

// DetachAffordance removes the progress overlay.
func (c *Conn) DetachAffordance() {
	c.enqueue(Frame{Type: FrameProgress, State: ProgressDetach})
}

// ShowSnapshot displays png in place of the live surface.
func (c *Conn) ShowSnapshot(png []byte) {
	c.enqueue(Frame{Type: FrameShowSnapshot, PNG: png})
}

// ClearSnapshot removes a displayed snapshot.
func (c *Conn) ClearSnapshot() {
	c.enqueue(Frame{Type: FrameClearSnapshot})
}

func (c *Conn) owner() (renderer.Events, renderer.MessageSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events, c.messages
}

func (c *Conn) readPump() error {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	deadline := 2 * c.cfg.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("renderer agent read failed", "error", err)
			}
			c.cancel()
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
		c.dispatch(f)
	}
}

func (c *Conn) dispatch(f Frame) {
	events, messages := c.owner()
	switch f.Type {
	case FramePageStarted:
		if events != nil {
			events.PageStarted(f.URL)
		}
	case FramePageFinished:
		if events != nil {
			events.PageFinished(f.URL)
		}
	case FrameError:
		if events != nil {
			events.ReceivedError(f.Code, f.Description, f.URL)
		}
	case FrameHTTPError:
		if events != nil {
			events.ReceivedHTTPError(f.Status, f.URL, f.MainFrame)
		}
	case FrameIntercept:
		id := f.ID
		resolve := func(handled bool) {
			c.enqueue(Frame{Type: FrameInterceptDone, ID: id, Handled: handled})
		}
		if events == nil {
			resolve(false)
			return
		}
		events.ShouldOverride(f.URL, resolve)
	case FrameMessage:
		if messages == nil {
			c.logger.Debug("bridge message with no session attached", "method", f.Method)
			return
		}
		msg := bridge.Message{Endpoint: f.Endpoint, Method: f.Method, Args: bridge.Args(f.Args)}
		if err := messages.Deliver(msg); err != nil {
			c.logger.Warn("bridge message rejected", "endpoint", f.Endpoint, "method", f.Method, "error", err)
		}
	case FrameEvalResult:
		c.mu.Lock()
		fn := c.results[f.ID]
		delete(c.results, f.ID)
		c.mu.Unlock()
		if fn != nil {
			fn(f.Value)
		}
	case FrameSnapshotResult:
		c.mu.Lock()
		ch := c.snapshots[f.ID]
		delete(c.snapshots, f.ID)
		c.mu.Unlock()
		if ch == nil {
			return
		}
		res := snapshotResult{png: f.PNG}
		if f.Error != "" {
			res.err = errors.New(f.Error)
		} else if len(f.PNG) == 0 {
			res.err = renderer.ErrNoSnapshot
		}
		ch <- res
	default:
		c.logger.Debug("unknown frame from renderer agent", "type", f.Type)
	}
}

func (c *Conn) writePump(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				c.cancel()
				return err
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.cancel()
				return err
			}
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return nil
		case <-c.ctx.Done():
			return nil
		}
	}
}
