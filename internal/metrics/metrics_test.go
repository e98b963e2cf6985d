package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecognitionFrames.WithLabelValues("matched").Inc()
	m.RecognitionFrames.WithLabelValues("no_face").Add(2)
	m.MatchDuration.Observe(0.042)
	m.ActiveSessions.Set(3)
	m.BroadcastFailures.Inc()
	m.RemoteWriteFailures.WithLabelValues("upsert_person").Inc()

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.RecognitionFrames.WithLabelValues("matched")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.RecognitionFrames.WithLabelValues("no_face")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BroadcastFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
