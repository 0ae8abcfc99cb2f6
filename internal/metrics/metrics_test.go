package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketUnder10ms, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketUnder50ms, LatencyToBucket(20*time.Millisecond))
	assert.Equal(t, BucketOver500ms, LatencyToBucket(900*time.Millisecond))
}

func TestRecorder_CountersIncrement(t *testing.T) {
	r := New()
	r.IncCollectionsCreated()
	r.IncVectorsInserted()
	r.IncVectorsInserted()
	r.IncSearchesPerformed()
	r.IncUploadsSucceeded()
	r.IncUploadsFailed()

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.CollectionsCreated)
	assert.Equal(t, int64(2), snap.VectorsInserted)
	assert.Equal(t, int64(1), snap.SearchesPerformed)
	assert.Equal(t, int64(1), snap.UploadsSucceeded)
	assert.Equal(t, int64(1), snap.UploadsFailed)
}

func TestRecorder_LatencyHistogramsAccumulate(t *testing.T) {
	r := New()
	r.ObserveInsert(5 * time.Millisecond)
	r.ObserveInsert(5 * time.Millisecond)
	r.ObserveQuery(200 * time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.InsertLatency[BucketUnder10ms])
	assert.Equal(t, int64(1), snap.QueryLatency[BucketUnder500ms])
}

func TestRecorder_GateWaitLatencyAccumulates(t *testing.T) {
	r := New()
	r.ObserveGateWait(2 * time.Millisecond)
	r.ObserveGateWait(600 * time.Millisecond)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.GateWaitLatency[BucketUnder10ms])
	assert.Equal(t, int64(1), snap.GateWaitLatency[BucketOver500ms])
}

func TestRecorder_BreakerAndDLQState(t *testing.T) {
	r := New()
	r.SetBreakerState("c1", "open")
	r.SetDLQDepth("c1", 3)

	snap := r.Snapshot()
	assert.Equal(t, "open", snap.CircuitBreakerState["c1"])
	assert.Equal(t, 3, snap.DLQDepth["c1"])
}

func TestRecorder_UptimeGrows(t *testing.T) {
	r := New()
	time.Sleep(time.Millisecond)
	snap := r.Snapshot()
	assert.Greater(t, snap.Uptime, time.Duration(0))
}
