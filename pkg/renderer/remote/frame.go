// Package remote attaches renderer agents over a websocket. An agent is the
// process that owns the real web view (a native shell or a headless
// browser); the host drives it through JSON frames and the agent reports
// page lifecycle events and bridge messages back.
package remote

import "encoding/json"

// Frame types sent to the agent.
const (
	FrameLoad          = "load"
	FrameEval          = "eval"
	FrameSnapshot      = "snapshot"
	FrameExpose        = "expose"
	FrameInterceptDone = "intercept_result"
	FrameProgress      = "progress"
	FrameShowSnapshot  = "show_snapshot"
	FrameClearSnapshot = "clear_snapshot"
)

// Frame types received from the agent.
const (
	FramePageStarted    = "page_started"
	FramePageFinished   = "page_finished"
	FrameError          = "error"
	FrameHTTPError      = "http_error"
	FrameIntercept      = "intercept"
	FrameMessage        = "message"
	FrameEvalResult     = "eval_result"
	FrameSnapshotResult = "snapshot_result"
)

// Progress frame states.
const (
	ProgressAttach    = "attach"
	ProgressIndicator = "indicator"
	ProgressDetach    = "detach"
)

// Frame is the single envelope used in both directions. Only the fields
// relevant to Type are set.
type Frame struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	URL         string `json:"url,omitempty"`
	Script      string `json:"script,omitempty"`
	Value       string `json:"value,omitempty"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state,omitempty"`
	Handled     bool   `json:"handled,omitempty"`
	Visible     bool   `json:"visible,omitempty"`
	PNG         []byte `json:"png,omitempty"`
	Code        int    `json:"code,omitempty"`
	Status      int    `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
	MainFrame   bool   `json:"main_frame,omitempty"`
	Error       string `json:"error,omitempty"`

	Endpoint string            `json:"endpoint,omitempty"`
	Method   string            `json:"method,omitempty"`
	Args     []json.RawMessage `json:"args,omitempty"`
}
