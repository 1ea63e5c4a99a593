package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyStatusBuckets(t *testing.T) {
	cases := []struct {
		seconds float64
		want    string
	}{
		{1.0, "excellent"},
		{5.0, "excellent"},
		{7.0, "good"},
		{20.0, "acceptable"},
		{45.0, "warning"},
		{90.0, "fail"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, latencyStatus(tc.seconds))
	}
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.5))

	single := []float64{3.0}
	assert.Equal(t, 3.0, percentile(single, 0.95))

	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 6.0, percentile(sorted, 0.50))
	assert.Equal(t, 10.0, percentile(sorted, 0.99))
}
