package monitoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordAccumulatesPerEndpoint(t *testing.T) {
	agg := NewAggregator()

	agg.Record("detect", 100*time.Millisecond, OutcomeSuccess, false)
	agg.Record("detect", 200*time.Millisecond, OutcomeSuccess, true)
	agg.Record("detect", 300*time.Millisecond, OutcomeError, false)
	agg.Record("paraphrase", 400*time.Millisecond, OutcomeTimeout, false)

	snap := agg.Snapshot()
	require.Equal(t, int64(4), snap.TotalRequests)
	require.Len(t, snap.Endpoints, 2)

	detect := snap.Endpoints[0]
	require.Equal(t, "detect", detect.Endpoint)
	require.Equal(t, int64(3), detect.RequestCount)
	require.Equal(t, int64(1), detect.ErrorCount)
	require.Equal(t, int64(1), detect.CacheHits)
	require.InDelta(t, 200.0, detect.AvgLatencyMS, 0.5)
	require.InDelta(t, 33.33, detect.ErrorRate, 0.1)

	paraphrase := snap.Endpoints[1]
	require.Equal(t, int64(1), paraphrase.TimeoutCount)
}

func TestPercentileReflectsRecentWindow(t *testing.T) {
	agg := NewAggregator(WithReservoirSize(100))

	for i := 0; i < 100; i++ {
		agg.Record("detect", 10*time.Millisecond, OutcomeSuccess, false)
	}
	snap := agg.Snapshot()
	require.InDelta(t, 10.0, snap.P95LatencyMS, 0.5)

	// A burst of slow requests pushes the P95 up...
	for i := 0; i < 100; i++ {
		agg.Record("detect", 500*time.Millisecond, OutcomeSuccess, false)
	}
	snap = agg.Snapshot()
	require.InDelta(t, 500.0, snap.P95LatencyMS, 1.0)

	// ...and ages out once the window refills with fast ones.
	for i := 0; i < 100; i++ {
		agg.Record("detect", 10*time.Millisecond, OutcomeSuccess, false)
	}
	snap = agg.Snapshot()
	require.InDelta(t, 10.0, snap.P95LatencyMS, 0.5)
}

func TestClassificationTallies(t *testing.T) {
	agg := NewAggregator()

	agg.RecordClassification("ai")
	agg.RecordClassification("ai")
	agg.RecordClassification("human")
	agg.RecordClassification("unknown") // ignored

	snap := agg.Snapshot()
	require.Equal(t, int64(3), snap.Classifications.Total)
	require.Equal(t, int64(2), snap.Classifications.AI)
	require.Equal(t, int64(1), snap.Classifications.Human)
}

func TestRecentErrorsAreBoundedAndNewestFirst(t *testing.T) {
	agg := NewAggregator(WithErrorRingSize(3))

	for i := 1; i <= 5; i++ {
		agg.RecordError("detect", fmt.Sprintf("error %d", i))
	}

	snap := agg.Snapshot()
	require.Len(t, snap.RecentErrors, 3)
	require.Equal(t, "error 5", snap.RecentErrors[0].Message)
	require.Equal(t, "error 4", snap.RecentErrors[1].Message)
	require.Equal(t, "error 3", snap.RecentErrors[2].Message)
}

func TestSnapshotOnEmptyAggregator(t *testing.T) {
	agg := NewAggregator()

	snap := agg.Snapshot()
	require.Equal(t, int64(0), snap.TotalRequests)
	require.Equal(t, float64(0), snap.ErrorRate)
	require.Empty(t, snap.Endpoints)
	require.Empty(t, snap.RecentErrors)
	require.GreaterOrEqual(t, snap.UptimeSeconds, float64(0))
}

func TestConcurrentRecording(t *testing.T) {
	agg := NewAggregator()

	done := make(chan struct{})
	for w := 0; w < 8; w++ {
		go func() {
			for i := 0; i < 250; i++ {
				agg.Record("detect", time.Millisecond, OutcomeSuccess, false)
			}
			done <- struct{}{}
		}()
	}
	for w := 0; w < 8; w++ {
		<-done
	}

	snap := agg.Snapshot()
	require.Equal(t, int64(2000), snap.TotalRequests)
}
