package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ArrayMapEvaluated(6, false)
	m.ArrayMapEvaluated(0, true)
	m.ObserveEvaluate(time.Now(), nil)
	m.ChunkProcessed(errors.New("boom"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.arrayMapEvaluations))
	require.Equal(t, 1.0, testutil.ToFloat64(m.constFastPath))
	require.Equal(t, 6.0, testutil.ToFloat64(m.flattenedElements))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bodySkipped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.chunksTotal.WithLabelValues("error")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ArrayMapEvaluated(1, true)
		m.ObserveEvaluate(time.Now(), nil)
		m.ChunkProcessed(nil)
	})
}
