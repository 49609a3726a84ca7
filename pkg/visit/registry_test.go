package visit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/visitbridge/pkg/dispatch"
	vberrors "github.com/odvcencio/visitbridge/pkg/errors"
	"github.com/odvcencio/visitbridge/pkg/renderer/renderertest"
	"github.com/odvcencio/visitbridge/pkg/telemetry"
)

func TestRegistry_CreateAssignsIDs(t *testing.T) {
	reg := NewRegistry(WithExecutor(dispatch.NewImmediate()))
	defer reg.Close()

	a, err := reg.Create(renderertest.NewSurface())
	require.NoError(t, err)
	b, err := reg.Create(renderertest.NewSurface(), WithID("fixed"))
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID())
	assert.Equal(t, "fixed", b.ID())
	assert.ElementsMatch(t, []string{a.ID(), "fixed"}, reg.IDs())

	got, err := reg.Get("fixed")
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestRegistry_DuplicateID(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	_, err := reg.Create(renderertest.NewSurface(), WithID("one"))
	require.NoError(t, err)

	surface := renderertest.NewSurface()
	_, err = reg.Create(surface, WithID("one"))
	assert.ErrorIs(t, err, ErrSessionExists)
	assert.False(t, surface.Attached(), "rejected session never takes the surface")
}

func TestRegistry_DuplicateIDLeavesLiveSessionQuiet(t *testing.T) {
	hub := telemetry.NewHubWithBuffer(16)
	defer hub.Close()
	reg := NewRegistry(WithEvents(hub))
	defer reg.Close()

	live, err := reg.Create(renderertest.NewSurface(), WithID("one"))
	require.NoError(t, err)

	events, unsub := hub.Subscribe(telemetry.ForSession("one"))
	defer unsub()

	_, err = reg.Create(renderertest.NewSurface(), WithID("one"))
	require.ErrorIs(t, err, ErrSessionExists)
	assert.False(t, live.Closed())

	select {
	case e := <-events:
		t.Fatalf("rejected duplicate published %s for the live session", e.Type)
	default:
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope")
	require.Error(t, err)
	assert.Equal(t, vberrors.ErrCodeSessionNotFound, vberrors.GetCode(err))
	assert.Equal(t, vberrors.ErrCodeSessionNotFound, vberrors.GetCode(reg.Remove("nope")))
}

func TestRegistry_RemoveClosesSession(t *testing.T) {
	reg := NewRegistry()
	surface := renderertest.NewSurface()
	s, err := reg.Create(surface, WithID("gone"))
	require.NoError(t, err)

	require.NoError(t, reg.Remove("gone"))
	assert.True(t, s.Closed())
	assert.False(t, surface.Attached())
	assert.Empty(t, reg.IDs())
}

func TestRegistry_CloseRejectsCreate(t *testing.T) {
	reg := NewRegistry()
	s, err := reg.Create(renderertest.NewSurface())
	require.NoError(t, err)

	reg.Close()
	assert.True(t, s.Closed())
	_, err = reg.Create(renderertest.NewSurface())
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestDefaultRegistry(t *testing.T) {
	t.Cleanup(ResetDefault)

	first := Default()
	assert.Same(t, first, Default())

	ResetDefault()
	assert.NotSame(t, first, Default())
}
