package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordPass("success", 20*time.Millisecond)
	m.RecordPass("success", 30*time.Millisecond)
	m.RecordPass("skipped", 0)
	m.SetCompiled(3, 2)
	m.AddDiagnostics(4)
	m.IncApplied()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.passesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.compiledRules.WithLabelValues("redirect")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.compiledRules.WithLabelValues("modifyHeaders")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.diagnosticsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.appliedTotal))

	n, err := testutil.GatherAndCount(m.Registry(), "rulesync_sync_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewDefaultRegistry(t *testing.T) {
	m := New(nil)
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
