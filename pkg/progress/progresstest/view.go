// Package progresstest provides a recording Affordance and SnapshotView.
package progresstest

import "sync"

// View records what a Presenter and Stage asked the host to display.
type View struct {
	mu        sync.Mutex
	attached  bool
	indicator bool
	snapshot  []byte
	log       []string
}

// NewView creates an empty view.
func NewView() *View { return &View{} }

func (v *View) record(entry string) {
	v.log = append(v.log, entry)
}

// AttachAffordance implements progress.Affordance.
func (v *View) AttachAffordance() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attached = true
	v.record("attach")
}

// SetIndicatorVisible implements progress.Affordance.
func (v *View) SetIndicatorVisible(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.indicator = visible
	if visible {
		v.record("indicator")
	}
}

// DetachAffordance implements progress.Affordance.
func (v *View) DetachAffordance() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attached = false
	v.indicator = false
	v.record("detach")
}

// ShowSnapshot implements progress.SnapshotView.
func (v *View) ShowSnapshot(png []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshot = append([]byte(nil), png...)
	v.record("snapshot")
}

// ClearSnapshot implements progress.SnapshotView.
func (v *View) ClearSnapshot() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshot = nil
	v.record("clear-snapshot")
}

// Attached reports whether the affordance is attached.
func (v *View) Attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attached
}

// IndicatorVisible reports whether the indicator is visible.
func (v *View) IndicatorVisible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.indicator
}

// Snapshot returns the displayed snapshot, if any.
func (v *View) Snapshot() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot
}

// Log returns the display operations in order.
func (v *View) Log() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.log...)
}
