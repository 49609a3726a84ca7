package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/odvcencio/visitbridge/pkg/bus"
)

var (
	errNoEventHub = errors.New("event streaming is not enabled")
	errNoBus      = errors.New("no message bus configured")
)

// ServeBus answers visit requests published on the bus until ctx ends.
// Each request is a JSON VisitRequest on <prefix>.session.<id>.visit and
// is answered with a VisitReply.
func (s *Server) ServeBus(ctx context.Context) error {
	if s.bus == nil {
		return errNoBus
	}
	subjects := bus.Subjects{Prefix: s.cfg.BusPrefix}
	sub, err := s.bus.Subscribe(ctx, subjects.AllVisits(), func(msg *bus.Message) []byte {
		return s.handleBusVisit(ctx, subjects, msg)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	s.logger.Info("accepting visit requests from bus", "subject", sub.Subject())
	<-ctx.Done()
	return nil
}

func (s *Server) handleBusVisit(ctx context.Context, subjects bus.Subjects, msg *bus.Message) []byte {
	id, _ := subjects.SessionFromSubject(msg.Subject)
	var req VisitRequest
	reply := VisitReply{SessionID: id}
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply.Error = "invalid visit request: " + err.Error()
		return encodeReply(reply)
	}

	reply, err := s.visit(ctx, id, req)
	if err != nil {
		reply.Error = err.Error()
		s.logger.Warn("bus visit request failed", "session_id", id, "error", err)
	}
	return encodeReply(reply)
}

func encodeReply(reply VisitReply) []byte {
	data, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"error":"encoding reply failed"}`)
	}
	return data
}
