package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/visitbridge/pkg/bridge"
	"github.com/odvcencio/visitbridge/pkg/progress"
)

var (
	_ progress.Affordance   = (*Conn)(nil)
	_ progress.SnapshotView = (*Conn)(nil)
)

type recordingEvents struct {
	seen      chan string
	intercept bool
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{seen: make(chan string, 16)}
}

func (e *recordingEvents) PageStarted(url string)  { e.seen <- "started " + url }
func (e *recordingEvents) PageFinished(url string) { e.seen <- "finished " + url }
func (e *recordingEvents) ReceivedError(code int, _ string, url string) {
	e.seen <- fmt.Sprintf("error %d %s", code, url)
}
func (e *recordingEvents) ReceivedHTTPError(status int, url string, mainFrame bool) {
	e.seen <- fmt.Sprintf("http %d %s %t", status, url, mainFrame)
}
func (e *recordingEvents) ShouldOverride(url string, resolve func(bool)) {
	e.seen <- "intercept " + url
	resolve(e.intercept)
}

type recordingSink struct{ msgs chan bridge.Message }

func (s recordingSink) Deliver(msg bridge.Message) error {
	s.msgs <- msg
	return nil
}

// pair starts a host-side Conn behind an httptest server and returns it
// with the agent side of the websocket.
func pair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Accept(w, r, Config{WriteTimeout: time.Second}, nil)
		if err != nil {
			return
		}
		conns <- c
		_ = c.Serve(context.Background())
	}))
	t.Cleanup(srv.Close)

	agent, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Close() })

	select {
	case c := <-conns:
		t.Cleanup(c.Close)
		return c, agent
	case <-time.After(2 * time.Second):
		t.Fatal("connection not accepted")
		return nil, nil
	}
}

func readFrame(t *testing.T, agent *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, agent.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, agent.ReadJSON(&f))
	return f
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestConn_OutboundFramesKeepOrder(t *testing.T) {
	c, agent := pair(t)

	c.Load("https://example.com/")
	c.EvaluateScript("webView.go();", nil)
	c.ExposeEndpoint("Analytics")
	c.AttachAffordance()
	c.SetIndicatorVisible(true)
	c.DetachAffordance()
	c.ShowSnapshot([]byte{1, 2})
	c.ClearSnapshot()

	want := []Frame{
		{Type: FrameLoad, URL: "https://example.com/"},
		{Type: FrameEval, Script: "webView.go();"},
		{Type: FrameExpose, Name: "Analytics"},
		{Type: FrameProgress, State: ProgressAttach},
		{Type: FrameProgress, State: ProgressIndicator, Visible: true},
		{Type: FrameProgress, State: ProgressDetach},
		{Type: FrameShowSnapshot, PNG: []byte{1, 2}},
		{Type: FrameClearSnapshot},
	}
	for _, w := range want {
		assert.Equal(t, w, readFrame(t, agent))
	}
}

func TestConn_EvaluateScriptResult(t *testing.T) {
	c, agent := pair(t)

	results := make(chan string, 1)
	c.EvaluateScript("1+1", func(v string) { results <- v })

	f := readFrame(t, agent)
	require.Equal(t, FrameEval, f.Type)
	require.NotZero(t, f.ID)
	require.NoError(t, agent.WriteJSON(Frame{Type: FrameEvalResult, ID: f.ID, Value: "2"}))

	assert.Equal(t, "2", receive(t, results))
}

func TestConn_InboundEvents(t *testing.T) {
	c, agent := pair(t)
	events := newRecordingEvents()
	events.intercept = true
	sink := recordingSink{msgs: make(chan bridge.Message, 1)}
	c.Attach(events, sink)

	frames := []Frame{
		{Type: FramePageStarted, URL: "u"},
		{Type: FramePageFinished, URL: "u"},
		{Type: FrameError, Code: -2, URL: "u"},
		{Type: FrameHTTPError, Status: 404, URL: "u", MainFrame: true},
	}
	for _, f := range frames {
		require.NoError(t, agent.WriteJSON(f))
	}
	assert.Equal(t, "started u", receive(t, events.seen))
	assert.Equal(t, "finished u", receive(t, events.seen))
	assert.Equal(t, "error -2 u", receive(t, events.seen))
	assert.Equal(t, "http 404 u true", receive(t, events.seen))

	args, err := bridge.NewArgs("v1", true)
	require.NoError(t, err)
	require.NoError(t, agent.WriteJSON(Frame{Type: FrameMessage, Method: "visitStarted", Args: args}))
	msg := receive(t, sink.msgs)
	assert.Equal(t, "visitStarted", msg.Method)
	id, err := msg.Args.String(0)
	require.NoError(t, err)
	assert.Equal(t, "v1", id)

	require.NoError(t, agent.WriteJSON(Frame{Type: FrameIntercept, ID: 7, URL: "https://example.com/b"}))
	assert.Equal(t, "intercept https://example.com/b", receive(t, events.seen))
	assert.Equal(t, Frame{Type: FrameInterceptDone, ID: 7, Handled: true}, readFrame(t, agent))
}

func TestConn_InterceptWithoutOwner(t *testing.T) {
	_, agent := pair(t)

	require.NoError(t, agent.WriteJSON(Frame{Type: FrameIntercept, ID: 3, URL: "u"}))
	assert.Equal(t, Frame{Type: FrameInterceptDone, ID: 3}, readFrame(t, agent))
}

func TestConn_Snapshot(t *testing.T) {
	c, agent := pair(t)

	go func() {
		var f Frame
		if err := agent.ReadJSON(&f); err != nil || f.Type != FrameSnapshot {
			return
		}
		_ = agent.WriteJSON(Frame{Type: FrameSnapshotResult, ID: f.ID, PNG: []byte("png")})
	}()

	png, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), png)
}

func TestConn_CloseResolvesPending(t *testing.T) {
	c, agent := pair(t)

	results := make(chan string, 1)
	c.EvaluateScript("pending()", func(v string) { results <- v })
	readFrame(t, agent)

	c.Close()
	assert.Equal(t, "", receive(t, results))
	receive(t, c.Done())

	_, err := c.Snapshot()
	assert.Error(t, err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "http://host.test/renderer", nil)

	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://host.test")
	assert.True(t, check(req), "same origin")

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
