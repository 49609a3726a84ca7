package visit

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/visitbridge/pkg/progress"
)

//go:generate mockgen -package=visit -destination=mock_adapter_test.go github.com/odvcencio/visitbridge/pkg/visit Adapter

// Adapter is the host callback set. Every callback runs on the session's
// owner context.
type Adapter interface {
	OnPageFinished()
	OnReceivedError(code int)
	PageInvalidated()
	RequestFailedWithStatusCode(code int)
	VisitCompleted()
	VisitProposedToLocationWithAction(location string, action Action)
}

// Action tells the page how to treat a visit.
type Action string

const (
	ActionAdvance Action = "advance"
	ActionRestore Action = "restore"
	ActionReplace Action = "replace"
)

// ParseAction accepts advance, restore and replace.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAdvance, ActionRestore, ActionReplace:
		return a, nil
	case "":
		return ActionAdvance, nil
	default:
		return "", fmt.Errorf("unknown visit action %q", s)
	}
}

// ReadyState is the session's position in the cold boot lifecycle.
type ReadyState int

const (
	Uninitialized ReadyState = iota
	ColdBooting
	Ready
)

func (s ReadyState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case ColdBooting:
		return "cold_booting"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// ContextKey is the stable identity of a host navigation context (one
// native screen). Restoration identifiers are remembered per key.
type ContextKey string

// InvalidationPolicy decides what happens to the current visit id when the
// page reports itself invalidated.
type InvalidationPolicy string

const (
	// PreserveVisitID keeps the id; late messages for it still match.
	PreserveVisitID InvalidationPolicy = "preserve"
	// ClearVisitID drops the id so every in-flight message becomes stale.
	ClearVisitID InvalidationPolicy = "clear"
)

// ParseInvalidationPolicy accepts preserve and clear.
func ParseInvalidationPolicy(s string) (InvalidationPolicy, error) {
	switch p := InvalidationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PreserveVisitID:
		return PreserveVisitID, nil
	case ClearVisitID:
		return p, nil
	default:
		return "", fmt.Errorf("unknown invalidation policy %q", s)
	}
}

// Settings are the tunable parts of a session.
type Settings struct {
	// ProgressDelay is how long the progress indicator stays hidden.
	ProgressDelay time.Duration
	// InterceptWindow is the minimum gap between two forwarded link
	// intercepts. An intercept exactly one window after the last forwarded
	// one is forwarded. Zero forwards every intercept.
	InterceptWindow time.Duration
	// InvalidationPolicy applies on pageInvalidated.
	InvalidationPolicy InvalidationPolicy
	// FailureStatusCode is reported when a page lacks the in-page library.
	FailureStatusCode int
	// Screenshots keeps a snapshot on the previous stage when the surface
	// moves to a new one.
	Screenshots bool
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		ProgressDelay:      progress.DefaultDelay,
		InterceptWindow:    500 * time.Millisecond,
		InvalidationPolicy: PreserveVisitID,
		FailureStatusCode:  500,
		Screenshots:        true,
	}
}

// Bridge message names.
const (
	msgVisitProposed       = "visitProposedToLocationWithAction"
	msgVisitStarted        = "visitStarted"
	msgVisitRequestDone    = "visitRequestCompleted"
	msgVisitRequestFailed  = "visitRequestFailedWithStatusCode"
	msgVisitRendered       = "visitRendered"
	msgSnapshotRestored    = "visitSnapshotRestored"
	msgVisitCompleted      = "visitCompleted"
	msgPageInvalidated     = "pageInvalidated"
	msgSetReady            = "setReady"
	msgBridgeDoesNotExist  = "bridgeDoesNotExist"
	msgFirstRestorationID  = "setFirstRestorationIdentifier"
	callChangeHistory      = "changeHistoryForVisit"
	callIssueRequest       = "issueRequestForVisit"
	callLoadCachedSnapshot = "loadCachedSnapshotForVisit"
	callRestoreSnapshot    = "restoreSnapshotForVisit"
	callLoadResponse       = "loadResponseForVisit"
	callVisitLocation      = "visitLocationWithAction"
	callCancelVisit        = "cancelVisitWithIdentifier"
)
