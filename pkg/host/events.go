package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/odvcencio/visitbridge/pkg/bus"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

const (
	eventsPingInterval = 20 * time.Second
	eventsPingTimeout  = 5 * time.Second
	eventsWriteTimeout = 15 * time.Second
	eventsReadLimit    = 4 << 10
	maxReplay          = 256
)

// handleEvents streams one session's events as JSON envelopes until the
// client disconnects or the session closes. With ?replay=n the stream
// starts with up to n events the bus retained for the session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.registry.Get(id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	replay := 0
	if raw := r.URL.Query().Get("replay"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, errBadReplay)
			return
		}
		replay = min(n, maxReplay)
	}
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, errNoEventHub)
		return
	}

	// Subscribe before the handshake completes so no event published after
	// the client connects is missed.
	events, unsubscribe := s.hub.Subscribe(telemetry.ForSession(id))
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("event stream accept failed", "session_id", id, "error", err)
		return
	}
	conn.SetReadLimit(eventsReadLimit)

	ctx := conn.CloseRead(r.Context())
	go keepAlive(ctx, conn)

	if replay > 0 {
		if err := s.replayEvents(ctx, conn, id, replay); err != nil {
			s.logger.Debug("event replay skipped", "session_id", id, "error", err)
		}
	}

	if err := streamEvents(ctx, conn, events); err != nil && ctx.Err() == nil {
		s.logger.Debug("event stream ended", "session_id", id, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "session closed")
}

var errBadReplay = errors.New("replay must be a non-negative integer")

func (s *Server) replayEvents(ctx context.Context, conn *websocket.Conn, sessionID string, limit int) error {
	replayer, ok := s.bus.(bus.Replayer)
	if !ok {
		return bus.ErrReplayUnavailable
	}
	retained, err := replayer.Replay(ctx, sessionID, limit)
	if err != nil {
		return err
	}
	for _, data := range retained {
		if err := writeEvent(ctx, conn, data); err != nil {
			return err
		}
	}
	return nil
}

func writeEvent(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, eventsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan telemetry.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(bus.EnvelopeFromEvent(event))
			if err != nil {
				continue
			}
			if err := writeEvent(ctx, conn, data); err != nil {
				return err
			}
			if event.Type == telemetry.EventSessionClosed {
				return nil
			}
		}
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(eventsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, eventsPingTimeout)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}
