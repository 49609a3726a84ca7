package host

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nhws "nhooyr.io/websocket"

	"github.com/odvcencio/visitbridge/pkg/bridge"
	"github.com/odvcencio/visitbridge/pkg/bus"
	"github.com/odvcencio/visitbridge/pkg/metrics"
	"github.com/odvcencio/visitbridge/pkg/renderer/remote"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

const home = "https://example.com/"

type harness struct {
	t        *testing.T
	srv      *Server
	http     *httptest.Server
	registry *visit.Registry
	hub      *telemetry.Hub
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	registry := visit.NewRegistry()
	hub := telemetry.NewHub()
	cfg := DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second

	srv := New(cfg, registry, append([]Option{WithHub(hub)}, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		registry.Close()
		ts.Close()
		hub.Close()
	})
	return &harness{t: t, srv: srv, http: ts, registry: registry, hub: hub}
}

func (h *harness) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.http.URL, "http") + path
}

// agent connects a renderer agent and waits for its session.
func (h *harness) agent(id string) *websocket.Conn {
	h.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL("/renderer?session="+id), nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = ws.Close() })
	require.Eventually(h.t, func() bool {
		_, err := h.registry.Get(id)
		return err == nil && h.srv.adapterFor(id) != nil
	}, 2*time.Second, 10*time.Millisecond)
	return ws
}

func (h *harness) do(method, path string, body any) (*http.Response, []byte) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.http.URL+path, r)
	require.NoError(h.t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, data
}

// next reads agent frames until one of type kind arrives.
func next(t *testing.T, ws *websocket.Conn, kind string) remote.Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		var f remote.Frame
		require.NoError(t, ws.ReadJSON(&f))
		if f.Type == kind {
			return f
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, method string, args ...any) {
	t.Helper()
	encoded, err := bridge.NewArgs(args...)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(remote.Frame{Type: remote.FrameMessage, Method: method, Args: encoded}))
}

// boot drives a cold boot of location through the agent until the page
// has answered the first in-page visit.
func boot(t *testing.T, h *harness, ws *websocket.Conn, id, location string) {
	t.Helper()
	resp, _ := h.do(http.MethodPost, "/sessions/"+id+"/visits", VisitRequest{Location: location})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	load := next(t, ws, remote.FrameLoad)
	require.Equal(t, location, load.URL)

	require.NoError(t, ws.WriteJSON(remote.Frame{Type: remote.FramePageStarted, URL: location}))
	require.NoError(t, ws.WriteJSON(remote.Frame{Type: remote.FramePageFinished, URL: location}))

	inject := next(t, ws, remote.FrameEval)
	require.Contains(t, inject.Script, "window.atob")
	require.NotZero(t, inject.ID)
	require.NoError(t, ws.WriteJSON(remote.Frame{Type: remote.FrameEvalResult, ID: inject.ID, Value: "true"}))

	send(t, ws, "setReady", true)
	visitCall := next(t, ws, remote.FrameEval)
	require.Contains(t, visitCall.Script, "webView.visitLocationWithAction(")
	require.Contains(t, visitCall.Script, location)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.EqualValues(t, 0, payload["sessions"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRendererColdBootRoundTrip(t *testing.T) {
	h := newHarness(t)
	ws := h.agent("s1")

	boot(t, h, ws, "s1", home)

	require.Eventually(t, func() bool {
		resp, body := h.do(http.MethodGet, "/sessions/s1", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var sum SessionSummary
		if json.Unmarshal(body, &sum) != nil {
			return false
		}
		return sum.State == "ready" && sum.BridgeInjected && sum.Location == home &&
			sum.Outcome != nil && sum.Outcome.PageFinished
	}, 2*time.Second, 20*time.Millisecond)
}

func TestVisitRequestValidation(t *testing.T) {
	h := newHarness(t)
	h.agent("s1")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"missing session", "/sessions/nope/visits", VisitRequest{Location: home}, http.StatusNotFound},
		{"bad action", "/sessions/s1/visits", VisitRequest{Location: home, Action: "jump"}, http.StatusBadRequest},
		{"bad body", "/sessions/s1/visits", "not an object", http.StatusBadRequest},
		{"no location", "/sessions/s1/visits", VisitRequest{}, http.StatusConflict},
		{"relative location", "/sessions/s1/visits", VisitRequest{Location: "/a"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestTimedOutVisitIsNotPerformed(t *testing.T) {
	h := newHarness(t)
	ws := h.agent("slow")
	sess, err := h.registry.Get("slow")
	require.NoError(t, err)

	release := make(chan struct{})
	require.NoError(t, sess.Executor().Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.srv.visit(ctx, "slow", VisitRequest{Location: home})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	sum, err := h.srv.summarize(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "uninitialized", sum.State)
	assert.Empty(t, sum.Location)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var f remote.Frame
	assert.Error(t, ws.ReadJSON(&f), "no frame reaches the agent")
}

func TestListSessions(t *testing.T) {
	h := newHarness(t)
	h.agent("a")
	h.agent("b")

	resp, body := h.do(http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Len(t, payload.Sessions, 2)
	assert.Equal(t, "a", payload.Sessions[0].ID)
	assert.Equal(t, "uninitialized", payload.Sessions[0].State)
	assert.Equal(t, "b", payload.Sessions[1].ID)
}

func TestDuplicateSessionRejected(t *testing.T) {
	h := newHarness(t)
	h.agent("dup")

	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL("/renderer?session=dup"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, []string{"dup"}, h.registry.IDs())
}

func TestAgentDisconnectRemovesSession(t *testing.T) {
	h := newHarness(t)
	ws := h.agent("gone")

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool {
		return len(h.registry.IDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ := h.do(http.MethodGet, "/sessions/gone", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSessionClosesAgent(t *testing.T) {
	h := newHarness(t)
	ws := h.agent("s1")

	resp, _ := h.do(http.MethodDelete, "/sessions/s1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		return len(h.registry.IDs()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

func TestFollowsProposedVisits(t *testing.T) {
	h := newHarness(t)
	ws := h.agent("s1")
	boot(t, h, ws, "s1", home)

	send(t, ws, "visitProposedToLocationWithAction", "https://example.com/next", "advance")

	call := next(t, ws, remote.FrameEval)
	assert.Contains(t, call.Script, "webView.visitLocationWithAction(")
	assert.Contains(t, call.Script, "https://example.com/next")
}

func TestInitialLocationQuery(t *testing.T) {
	h := newHarness(t)

	ws, _, err := websocket.DefaultDialer.Dial(h.wsURL("/renderer?session=s1&location="+home), nil)
	require.NoError(t, err)
	defer ws.Close()

	load := next(t, ws, remote.FrameLoad)
	assert.Equal(t, home, load.URL)
}

func TestCancelVisit(t *testing.T) {
	h := newHarness(t)
	ws := h.agent("s1")
	boot(t, h, ws, "s1", home)

	send(t, ws, "visitStarted", "v1", false)
	next(t, ws, remote.FrameEval) // changeHistoryForVisit

	resp, _ := h.do(http.MethodPost, "/sessions/s1/cancel", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	for {
		f := next(t, ws, remote.FrameEval)
		if strings.Contains(f.Script, "cancelVisitWithIdentifier") {
			assert.Contains(t, f.Script, `"v1"`)
			return
		}
	}
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)
	h.agent("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := nhws.Dial(ctx, h.wsURL("/sessions/s1/events"), nil)
	require.NoError(t, err)
	defer conn.Close(nhws.StatusNormalClosure, "")

	resp, _ := h.do(http.MethodPost, "/sessions/s1/visits", VisitRequest{Location: home})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var env bus.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.Equal(t, "s1", env.SessionID)
		require.NotEmpty(t, env.ID)
		if env.Type == string(telemetry.EventColdBootStarted) {
			assert.Equal(t, home, env.Location)
			return
		}
	}
}

func TestEventStreamReplay(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	h := newHarness(t, WithBus(b))
	h.agent("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	retained, err := json.Marshal(bus.Envelope{ID: "01RETAINED", Type: string(telemetry.EventVisitCompleted), SessionID: "s1", VisitID: "v1"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.Subjects{}.Event("s1", string(telemetry.EventVisitCompleted)), retained))

	conn, _, err := nhws.Dial(ctx, h.wsURL("/sessions/s1/events?replay=5"), nil)
	require.NoError(t, err)
	defer conn.Close(nhws.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env bus.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "01RETAINED", env.ID)
	assert.Equal(t, "v1", env.VisitID)

	resp, _ := h.do(http.MethodGet, "/sessions/s1/events?replay=lots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStreamUnknownSession(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(http.MethodGet, "/sessions/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, WithGatherer(reg), WithSessionOptions(visit.WithMetrics(m)))
	h.agent("s1")

	resp, body := h.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "visitbridge_sessions_active 1")
}

func TestBusVisitRequests(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	h := newHarness(t, WithBus(b))
	ws := h.agent("s1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.srv.ServeBus(ctx) }()

	subject := bus.Subjects{Prefix: "visitbridge"}.Visit("s1")
	payload, err := json.Marshal(VisitRequest{Location: home})
	require.NoError(t, err)

	var reply VisitReply
	require.Eventually(t, func() bool {
		data, err := b.Request(ctx, subject, payload, time.Second)
		if err != nil {
			return false
		}
		return json.Unmarshal(data, &reply) == nil
	}, 2*time.Second, 20*time.Millisecond)

	assert.Empty(t, reply.Error)
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, "advance", reply.Action)
	assert.Equal(t, "cold_booting", reply.State)
	assert.Equal(t, home, next(t, ws, remote.FrameLoad).URL)

	data, err := b.Request(ctx, bus.Subjects{Prefix: "visitbridge"}.Visit("missing"), payload, time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &reply))
	assert.Contains(t, reply.Error, "session not found")
}

func TestServeBusWithoutBus(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.srv.ServeBus(context.Background()), errNoBus)
}
