package testsupport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// GetMetricValue reads one series of a leadflow metric from the default
// registry. Counters and gauges report their value, histograms their sample
// count. A series that was never observed reads as zero.
//
// When several series match labels, the first one wins, so callers should
// pass enough labels to pin a single series.
func GetMetricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, series := range family.GetMetric() {
			if hasLabels(series, labels) {
				return seriesValue(series)
			}
		}
	}
	return 0
}

func seriesValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

// AssertMetricDelta runs fn and checks that the series moved by exactly delta.
// The registry is global, so tests using it must not run in parallel with
// others touching the same series.
func AssertMetricDelta(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, name, labels)
	fn()
	after := GetMetricValue(t, name, labels)

	assert.InDelta(t, delta, after-before, 1e-9, "unexpected change in %s%v", name, labels)
}

// AssertHistogramRecorded checks that the histogram series holds at least one observation.
func AssertHistogramRecorded(t *testing.T, name string, labels map[string]string) {
	t.Helper()

	assert.Positive(t, GetMetricValue(t, name, labels), "no observations in %s%v", name, labels)
}
