package host

import (
	"github.com/odvcencio/visitbridge/pkg/logging"
	"github.com/odvcencio/visitbridge/pkg/visit"
)

// Outcome is the last result a session reported to its host.
type Outcome struct {
	PageFinished  bool   `json:"page_finished"`
	Completed     bool   `json:"completed"`
	StatusCode    int    `json:"status_code,omitempty"`
	ErrorCode     int    `json:"error_code,omitempty"`
	Invalidations int    `json:"invalidations,omitempty"`
	Proposed      string `json:"proposed,omitempty"`
}

// sessionAdapter is the host side of a remotely rendered session. All
// methods run on the session's owner context.
type sessionAdapter struct {
	session *visit.Session
	logger  *logging.Logger
	follow  bool

	outcome Outcome
}

var _ visit.Adapter = (*sessionAdapter)(nil)

func (a *sessionAdapter) begin() {
	a.outcome = Outcome{Invalidations: a.outcome.Invalidations}
}

func (a *sessionAdapter) OnPageFinished() {
	a.outcome.PageFinished = true
}

func (a *sessionAdapter) OnReceivedError(code int) {
	a.outcome.ErrorCode = code
	a.logger.Warn("renderer reported a load error", "code", code)
}

func (a *sessionAdapter) PageInvalidated() {
	a.outcome.Invalidations++
}

func (a *sessionAdapter) RequestFailedWithStatusCode(code int) {
	a.outcome.StatusCode = code
	a.logger.Warn("visit request failed", "status", code)
}

func (a *sessionAdapter) VisitCompleted() {
	a.outcome.Completed = true
}

func (a *sessionAdapter) VisitProposedToLocationWithAction(location string, action visit.Action) {
	a.outcome.Proposed = location
	if !a.follow || a.session == nil {
		return
	}
	a.begin()
	if err := startVisit(a.session, location, action); err != nil {
		a.logger.Warn("failed to follow proposed visit", "location", location, "action", string(action), "error", err)
	}
}

// startVisit runs a visit on the owner context. Replace visits on a ready
// page go straight to the page; everything else goes through Visit.
func startVisit(s *visit.Session, location string, action visit.Action) error {
	switch action {
	case visit.ActionRestore:
		s.RestoreWithCachedSnapshot(true)
	case visit.ActionReplace:
		if s.IsReady() {
			return s.VisitLocationWithAction(location, action)
		}
	}
	return s.Visit(location)
}
