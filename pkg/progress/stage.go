package progress

import (
	"sync"
	"time"

	"github.com/odvcencio/visitbridge/pkg/dispatch"
	"github.com/odvcencio/visitbridge/pkg/renderer"
)

// SnapshotView displays a still image in place of the live content.
type SnapshotView interface {
	ShowSnapshot(png []byte)
	ClearSnapshot()
}

// Mount tracks which Stage currently hosts a renderer surface. A surface is
// shared by every screen of a session but hosted by one Stage at a time.
type Mount struct {
	mu      sync.Mutex
	surface renderer.Surface
	stage   *Stage
}

// NewMount wraps surface.
func NewMount(surface renderer.Surface) *Mount {
	return &Mount{surface: surface}
}

// Surface returns the mounted surface.
func (m *Mount) Surface() renderer.Surface { return m.surface }

// Host returns the stage currently hosting the surface, if any.
func (m *Mount) Host() *Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Stage is one screen's presentation: it hosts the renderer surface and
// owns that screen's progress presenter and frozen snapshot.
type Stage struct {
	name      string
	presenter *Presenter
	view      SnapshotView

	snapshot []byte
	// capture is bumped whenever a pending snapshot becomes stale.
	capture uint64
}

// NewStage creates a stage. view may be nil when snapshots are not shown.
func NewStage(name string, presenter *Presenter, view SnapshotView) *Stage {
	return &Stage{name: name, presenter: presenter, view: view}
}

// Name identifies the stage in logs.
func (s *Stage) Name() string { return s.name }

// Presenter returns the stage's progress presenter.
func (s *Stage) Presenter() *Presenter { return s.presenter }

// SetPresenter replaces the progress presenter, hiding the old one first.
func (s *Stage) SetPresenter(p *Presenter) {
	if s.presenter != nil && s.presenter != p {
		s.presenter.Hide()
	}
	s.presenter = p
}

// Attach makes s the host of the mounted surface. The previous host is
// detached first; when screenshots is set it keeps a snapshot of the
// content it was showing. The snapshot is taken off the owner context and
// applied through exec once the surface returns it. Attaching to the
// current host is a no-op.
func (s *Stage) Attach(m *Mount, screenshots bool, exec dispatch.Executor) bool {
	m.mu.Lock()
	prev := m.stage
	if prev == s {
		m.mu.Unlock()
		return false
	}
	m.stage = s
	m.mu.Unlock()

	if prev != nil && screenshots {
		prev.captureSnapshot(m.surface, exec)
	}
	return true
}

// captureSnapshot asks surface for an image on its own goroutine. The image
// is dropped if the stage hid its progress in the meantime.
func (s *Stage) captureSnapshot(surface renderer.Surface, exec dispatch.Executor) {
	if s.view == nil || surface == nil || exec == nil {
		return
	}
	s.capture++
	want := s.capture
	go func() {
		png, err := surface.Snapshot()
		if err != nil || len(png) == 0 {
			return
		}
		_ = exec.Post(func() {
			if s.capture == want {
				s.showSnapshot(png)
			}
		})
	}()
}

// Hosts reports whether s currently hosts the surface of m.
func (s *Stage) Hosts(m *Mount) bool {
	return m.Host() == s
}

// SubstituteWithSnapshot freezes the surface's current content on this
// stage. Surfaces that cannot produce an image leave the stage unchanged.
// It waits for the surface, so remote surfaces should go through Attach.
func (s *Stage) SubstituteWithSnapshot(surface renderer.Surface) bool {
	if s.view == nil || surface == nil {
		return false
	}
	png, err := surface.Snapshot()
	if err != nil || len(png) == 0 {
		return false
	}
	s.showSnapshot(png)
	return true
}

func (s *Stage) showSnapshot(png []byte) {
	s.snapshot = png
	s.view.ShowSnapshot(png)
}

// HasSnapshot reports whether a frozen snapshot is displayed.
func (s *Stage) HasSnapshot() bool { return s.snapshot != nil }

// ShowProgress shows the loading affordance unless a snapshot already
// covers the content. It reports whether the affordance was shown.
func (s *Stage) ShowProgress(delay time.Duration) bool {
	if s.snapshot != nil || s.presenter == nil {
		return false
	}
	s.presenter.Show(delay)
	return true
}

// HideProgress removes the affordance and any snapshot, including one
// still being captured.
func (s *Stage) HideProgress() {
	s.capture++
	if s.presenter != nil {
		s.presenter.Hide()
	}
	if s.snapshot != nil {
		s.snapshot = nil
		if s.view != nil {
			s.view.ClearSnapshot()
		}
	}
}
