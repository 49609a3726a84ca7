package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

// SessionSummary is the API view of a session.
type SessionSummary struct {
	ID             string   `json:"id"`
	State          string   `json:"state"`
	Location       string   `json:"location,omitempty"`
	CurrentVisitID string   `json:"current_visit_id,omitempty"`
	BridgeInjected bool     `json:"bridge_injected"`
	Endpoints      []string `json:"endpoints,omitempty"`
	Outcome        *Outcome `json:"outcome,omitempty"`
}

// VisitRequest asks a session to visit a location.
type VisitRequest struct {
	Location string `json:"location"`
	Action   string `json:"action,omitempty"`
}

// VisitReply reports how a visit request was taken.
type VisitReply struct {
	SessionID string `json:"session_id"`
	Location  string `json:"location"`
	Action    string `json:"action"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) summarize(ctx context.Context, sess *visit.Session) (SessionSummary, error) {
	adapter := s.adapterFor(sess.ID())
	return visit.Call(ctx, sess, func() (SessionSummary, error) {
		sum := SessionSummary{
			ID:             sess.ID(),
			State:          sess.State().String(),
			Location:       sess.Location(),
			CurrentVisitID: sess.CurrentVisitID(),
			BridgeInjected: sess.BridgeInjected(),
			Endpoints:      sess.Endpoints(),
		}
		if adapter != nil {
			outcome := adapter.outcome
			sum.Outcome = &outcome
		}
		return sum, nil
	})
}

// visit runs req on the session's owner context.
func (s *Server) visit(ctx context.Context, id string, req VisitRequest) (VisitReply, error) {
	reply := VisitReply{SessionID: id, Location: req.Location}
	action, err := visit.ParseAction(req.Action)
	if err != nil {
		return reply, vberrors.Wrap(err, vberrors.ErrCodeConfigInvalid, "invalid visit action")
	}
	reply.Action = string(action)
	if strings.TrimSpace(req.Location) == "" {
		return reply, vberrors.Configuration("location", "visit requests need a location")
	}

	sess, err := s.registry.Get(id)
	if err != nil {
		return reply, err
	}
	adapter := s.adapterFor(id)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	state, err := visit.Call(ctx, sess, func() (string, error) {
		if adapter != nil {
			adapter.begin()
		}
		if err := startVisit(sess, req.Location, action); err != nil {
			return "", err
		}
		return sess.State().String(), nil
	})
	reply.State = state
	return reply, err
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	sessions := make([]SessionSummary, 0)
	for _, id := range s.registry.IDs() {
		sess, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		sum, err := s.summarize(ctx, sess)
		if err != nil {
			s.logger.Warn("session summary unavailable", "session_id", id, "error", err)
			continue
		}
		sessions = append(sessions, sum)
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	sum, err := s.summarize(ctx, sess)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.registry.Get(id)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	// Closing the agent connection ends the renderer handler, which
	// removes the session.
	if closer, ok := sess.Surface().(interface{ Close() }); ok {
		closer.Close()
	} else if err := s.registry.Remove(id); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var req VisitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid visit request: %w", err))
		return
	}
	reply, err := s.visit(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		status := statusFor(err)
		if vberrors.IsCode(err, vberrors.ErrCodeConfigInvalid) {
			status = http.StatusBadRequest
		}
		respondError(w, status, err)
		return
	}
	respondJSON(w, http.StatusAccepted, reply)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	if err := sess.Do(ctx, sess.CancelVisit); err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
