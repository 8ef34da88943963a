package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.Nil(t, New(nil))

	// None of these may panic.
	m.SessionStarted()
	m.SessionEnded()
	m.FrameSent("plain", 10, time.Millisecond)
	m.EncodeFallback()
	m.TicksSkipped(3)
	m.FrameDropped()
	m.DecodeError()
	m.RequestAnswered(2)
	m.Ingested("csv", 5)
	RegisterStore(nil, nil)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))

	m.FrameSent("columnar", 100, time.Millisecond)
	m.FrameSent("columnar", 50, time.Millisecond)
	m.FrameSent("plain", 10, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesSent.WithLabelValues("columnar")))
	assert.Equal(t, 160.0, testutil.ToFloat64(m.bytesSent))

	m.TicksSkipped(0)
	m.TicksSkipped(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ticksSkipped))

	m.RequestAnswered(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.updatesSent))

	m.Ingested("csv", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.ingested.WithLabelValues("csv")))
}

func TestRegisterStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	st := store.New()
	RegisterStore(reg, st)

	st.AddSample("a", 1, types.Number(1))
	st.AddSample("a", 2, types.Number(2))
	st.AddSample("b", 1, types.Number(1))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	assert.Equal(t, 2.0, got["telestream_store_topics"])
	assert.Equal(t, 3.0, got["telestream_store_points"])
}
