package promotion

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCount(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.attempt("completed")
	m.attempt("completed")
	m.childFailure("employees", "continue")
	m.skip("claim_lost")
	m.stage(StateWriting, time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.childFailures.WithLabelValues("employees", "continue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("claim_lost")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.attempt("failed")
		m.childFailure("employees", "abort")
		m.skip("x")
		m.stage(StateValidating, time.Now())
	})
}
