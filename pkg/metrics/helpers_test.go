package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// histogramSum reads the running sum out of one histogram child.
func histogramSum(t *testing.T, o prometheus.Observer) float64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	require.True(t, ok, "observer %T is not a metric", o)
	var out dto.Metric
	require.NoError(t, metric.Write(&out))
	return out.GetHistogram().GetSampleSum()
}
