package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterWithLabel(f *dto.MetricFamily, name, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == name && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestCollectors_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	c.VisitRequested("advance")
	c.VisitRequested("advance")
	c.VisitRequested("restore")
	c.ColdBoot()
	c.StaleMessage("visitRequestCompleted")
	c.BridgeCall("issueRequestForVisit")
	c.BridgeMessage("visitStarted")
	c.AdapterCallback("visitCompleted")
	c.RendererError()
	c.VisitFinished(250 * time.Millisecond)

	families := gather(t, reg)

	require.Contains(t, families, "visitbridge_sessions_active")
	assert.Equal(t, 1.0, families["visitbridge_sessions_active"].GetMetric()[0].GetGauge().GetValue())

	visits := families["visitbridge_visits_total"]
	require.NotNil(t, visits)
	assert.Equal(t, 2.0, counterWithLabel(visits, "action", "advance"))
	assert.Equal(t, 1.0, counterWithLabel(visits, "action", "restore"))

	assert.Equal(t, 1.0, families["visitbridge_cold_boots_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 1.0, counterWithLabel(families["visitbridge_stale_messages_total"], "message", "visitRequestCompleted"))
	assert.Equal(t, 1.0, counterWithLabel(families["visitbridge_bridge_calls_total"], "function", "issueRequestForVisit"))
	assert.Equal(t, 1.0, counterWithLabel(families["visitbridge_bridge_messages_total"], "method", "visitStarted"))
	assert.Equal(t, 1.0, counterWithLabel(families["visitbridge_adapter_callbacks_total"], "callback", "visitCompleted"))
	assert.Equal(t, 1.0, families["visitbridge_renderer_errors_total"].GetMetric()[0].GetCounter().GetValue())

	hist := families["visitbridge_visit_duration_seconds"].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), hist.GetSampleCount())
	assert.InDelta(t, 0.25, hist.GetSampleSum(), 1e-9)
}

func TestCollectors_NilIsSafe(t *testing.T) {
	var c *Collectors
	c.SessionOpened()
	c.VisitRequested("advance")
	c.StaleMessage("visitRendered")
	c.VisitFinished(time.Second)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
