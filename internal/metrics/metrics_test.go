package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OperationDone("set", "success")
	m.OperationDone("set", "success")
	m.OperationDone("delete", "failed")
	m.SetQueueDepth(3)
	m.ChunksWritten(2, 5, 1)
	m.Hydrated("restored")
	m.ConflictDetected("LAST_MODIFIED_WINS")
	m.IntegrityFailure("SKIP")
	m.HTTPRequest("GET", "/api/v1/health", 200, 10*time.Millisecond)
	m.Committed(4)
	m.PreconditionFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("set", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("delete", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunkWrites))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ChunkSkips))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkDeletes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hydrations.WithLabelValues("restored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/health", "200")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CommittedWrites))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.OperationDone("set", "success")
		m.SetQueueDepth(1)
		m.ChunksWritten(1, 1, 1)
		m.Hydrated("skipped")
		m.ConflictDetected("LOCAL_WINS")
		m.IntegrityFailure("USE_REMOTE")
		m.HTTPRequest("GET", "/", 500, time.Second)
		m.Committed(1)
		m.PreconditionFailed()
	})
}
