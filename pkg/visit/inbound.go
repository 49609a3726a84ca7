package visit

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/visitbridge/pkg/bridge"
	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
	"github.com/odvcencio/visitbridge/pkg/tracing"
)

// receive is the built-in bridge endpoint. It may run on any goroutine.
func (s *Session) receive(msg bridge.Message) {
	if err := s.exec.Post(func() { s.handle(msg) }); err != nil {
		s.logger.Debug("dropping bridge message", "method", msg.Method, "error", err)
	}
}

func (s *Session) handle(msg bridge.Message) {
	if s.closed {
		return
	}
	var err error
	switch msg.Method {
	case msgVisitProposed:
		err = s.onVisitProposed(msg.Args)
	case msgVisitStarted:
		err = s.onVisitStarted(msg.Args)
	case msgVisitRequestDone:
		err = s.onVisitRequestCompleted(msg.Args)
	case msgVisitRequestFailed:
		err = s.onVisitRequestFailed(msg.Args)
	case msgVisitRendered, msgSnapshotRestored:
		err = s.onVisitRendered(msg.Method, msg.Args)
	case msgVisitCompleted:
		err = s.onVisitCompleted(msg.Args)
	case msgPageInvalidated:
		s.onPageInvalidated()
	case msgSetReady:
		err = s.onSetReady(msg.Args)
	case msgBridgeDoesNotExist:
		s.onBridgeDoesNotExist()
	case msgFirstRestorationID:
		err = s.onFirstRestorationIdentifier(msg.Args)
	default:
		s.logger.Warn("unknown bridge message", "method", msg.Method)
	}
	if err != nil {
		s.logger.Warn("malformed bridge message", "method", msg.Method, "error", err)
	}
}

// isCurrent reports whether visitID matches the current visit. Stale
// messages are counted and logged, never surfaced.
func (s *Session) isCurrent(method, visitID string) bool {
	if visitID == s.currentVisitID {
		return true
	}
	s.logger.StaleMessage(method, visitID, s.currentVisitID)
	s.metrics.StaleMessage(method)
	if s.visitSpan != nil {
		s.visitSpan.RecordError(vberrors.StaleMessage(method, visitID, s.currentVisitID))
	}
	return false
}

func (s *Session) onVisitProposed(args bridge.Args) error {
	location, err := args.String(0)
	if err != nil {
		return err
	}
	rawAction, err := args.String(1)
	if err != nil {
		return err
	}
	action, err := ParseAction(rawAction)
	if err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeBridgeDecode, "invalid visit action")
	}
	s.proposeVisit(location, action)
	return nil
}

func (s *Session) proposeVisit(location string, action Action) {
	s.notify("visitProposedToLocationWithAction", slog.String("location", location), slog.String("action", string(action)))
	s.publish(telemetry.EventVisitProposed, map[string]any{"proposed_location": location, "action": string(action)})
	s.withAdapter(func(a Adapter) { a.VisitProposedToLocationWithAction(location, action) })
}

func (s *Session) onVisitStarted(args bridge.Args) error {
	visitID, err := args.String(0)
	if err != nil {
		return err
	}
	hasSnapshot, err := args.Bool(1)
	if err != nil {
		return err
	}

	s.endVisitSpan("superseded", nil)
	s.currentVisitID = visitID
	s.startVisitSpan(visitID, hasSnapshot)
	s.logger.VisitStarted(visitID, hasSnapshot)
	s.publish(telemetry.EventVisitStarted, map[string]any{"has_cached_snapshot": hasSnapshot})

	snapshotCall := callLoadCachedSnapshot
	if s.currentAction == ActionRestore {
		snapshotCall = callRestoreSnapshot
	}
	for _, call := range []string{callChangeHistory, callIssueRequest, snapshotCall} {
		if err := s.channel.Send(call, visitID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) onVisitRequestCompleted(args bridge.Args) error {
	visitID, err := args.String(0)
	if err != nil {
		return err
	}
	if !s.isCurrent(msgVisitRequestDone, visitID) {
		return nil
	}
	s.publish(telemetry.EventVisitRequestDone, nil)
	return s.channel.Send(callLoadResponse, visitID)
}

func (s *Session) onVisitRequestFailed(args bridge.Args) error {
	visitID, err := args.String(0)
	if err != nil {
		return err
	}
	status, err := args.Int(1)
	if err != nil {
		return err
	}
	s.requestFailed(msgVisitRequestFailed, visitID, status)
	return nil
}

func (s *Session) requestFailed(method, visitID string, status int) {
	if !s.isCurrent(method, visitID) {
		return
	}
	s.endVisitSpan("failed", nil, tracing.AttrStatus.Int(status))
	s.publish(telemetry.EventVisitRequestFailed, map[string]any{"status": status})
	s.notify("requestFailedWithStatusCode", slog.Int("status", status))
	s.withAdapter(func(a Adapter) { a.RequestFailedWithStatusCode(status) })
}

func (s *Session) onVisitRendered(method string, args bridge.Args) error {
	visitID, err := args.String(0)
	if err != nil {
		return err
	}
	if s.state != Ready || !s.isCurrent(method, visitID) {
		return nil
	}
	s.publish(telemetry.EventVisitRendered, map[string]any{"snapshot": method == msgSnapshotRestored})
	s.hideProgress()
	return nil
}

func (s *Session) onVisitCompleted(args bridge.Args) error {
	visitID, err := args.String(0)
	if err != nil {
		return err
	}
	restorationID, err := args.String(1)
	if err != nil {
		return err
	}

	s.storeRestorationIdentifier(restorationID)
	if !s.isCurrent(msgVisitCompleted, visitID) {
		return nil
	}
	s.endVisitSpan("completed", nil)
	s.publish(telemetry.EventVisitCompleted, map[string]any{"restoration_id": restorationID})
	s.notify("visitCompleted")
	s.withAdapter(Adapter.VisitCompleted)
	return nil
}

func (s *Session) onFirstRestorationIdentifier(args bridge.Args) error {
	restorationID, err := args.String(0)
	if err != nil {
		return err
	}
	s.storeRestorationIdentifier(restorationID)
	return nil
}

func (s *Session) storeRestorationIdentifier(id string) {
	if s.contextKey == "" {
		return
	}
	s.restorationIDs[s.contextKey] = id
}

func (s *Session) onPageInvalidated() {
	s.reset()
	if s.settings.InvalidationPolicy == ClearVisitID {
		s.currentVisitID = ""
	}
	s.publish(telemetry.EventPageInvalidated, nil)
	s.notify("pageInvalidated")
	s.withAdapter(Adapter.PageInvalidated)

	if err := s.Visit(s.location); err != nil {
		s.logger.Warn("revisit after invalidation failed", "error", err)
	}
}

func (s *Session) onSetReady(args bridge.Args) error {
	ready, err := args.Bool(0)
	if err != nil {
		return err
	}
	s.logger.Ready(ready)

	if ready {
		s.state = Ready
		s.coldBootInProgress = false
		s.publish(telemetry.EventSessionReady, nil)
		s.visitCurrentLocation()
		return nil
	}

	mismatch := vberrors.ProtocolMismatch(s.location)
	s.logger.Warn(mismatch.Error())
	s.reset()
	s.requestFailed(msgSetReady, s.currentVisitID, s.settings.FailureStatusCode)
	return nil
}

func (s *Session) onBridgeDoesNotExist() {
	s.logger.Warn("bridge script failed to install, resetting to cold boot")
	s.publish(telemetry.EventBridgeMissing, nil)
	s.reset()
	s.hideProgress()
}

// withAdapter calls fn with the bound adapter. Messages that arrive before
// an adapter is bound update state without notifying anyone.
func (s *Session) withAdapter(fn func(Adapter)) {
	if s.adapter != nil {
		fn(s.adapter)
	}
}

func (s *Session) notify(callback string, attrs ...slog.Attr) {
	s.logger.AdapterCallback(callback, attrs...)
	s.metrics.AdapterCallback(callback)
}

func (s *Session) startVisitSpan(visitID string, hasSnapshot bool) {
	_, span := s.tracer.Start(context.Background(), "visit",
		trace.WithAttributes(
			tracing.AttrSessionID.String(s.id),
			tracing.AttrVisitID.String(visitID),
			tracing.AttrLocation.String(s.location),
			tracing.AttrAction.String(string(s.currentAction)),
			tracing.AttrSnapshot.Bool(hasSnapshot),
		),
	)
	s.visitSpan = span
	s.visitStarted = s.clock.Now()
}

func (s *Session) endVisitSpan(outcome string, err error, attrs ...attribute.KeyValue) {
	if s.visitSpan == nil {
		return
	}
	span := s.visitSpan
	s.visitSpan = nil
	if outcome == "completed" {
		s.metrics.VisitFinished(s.clock.Now().Sub(s.visitStarted))
	}
	span.SetAttributes(append(attrs, tracing.AttrOutcome.String(outcome))...)
	if err != nil {
		span.RecordError(err)
	}
	if outcome == "failed" {
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}
