package controller

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/testutil"
)

func newTestBatch(sender *testutil.CapturingSender) *brokerRequestBatch {
	return newBrokerRequestBatch(sender.Send, NewMetrics(prometheus.NewRegistry()), log.NewNop())
}

func TestBatchRejectsDoubleOpen(t *testing.T) {
	b := newTestBatch(testutil.NewCapturingSender())
	require.NoError(t, b.newBatch())
	require.Error(t, b.newBatch())
}

func TestBatchAggregatesPerBroker(t *testing.T) {
	sender := testutil.NewCapturingSender()
	b := newTestBatch(sender)
	ctx := NewContext()
	ctx.SetLiveBrokers([]int32{1, 2})

	require.NoError(t, b.newBatch())
	lie := LeaderIsrAndControllerEpoch{
		LeaderAndISR:    LeaderAndISR{Leader: 1, ISR: []int32{1, 2}},
		ControllerEpoch: 3,
	}
	b.addLeaderAndIsrRequestForBrokers([]int32{1, 2}, PartitionID{Topic: "t", Partition: 0}, lie, []int32{1, 2})
	b.addLeaderAndIsrRequestForBrokers([]int32{1}, PartitionID{Topic: "t", Partition: 1}, lie, []int32{1, 2})
	require.NoError(t, b.sendRequestsToBrokers(0, 3, ctx))

	reqs1 := sender.LeaderAndIsrRequests(1)
	require.Len(t, reqs1, 1)
	require.Len(t, reqs1[0].PartitionStates, 2)
	reqs2 := sender.LeaderAndIsrRequests(2)
	require.Len(t, reqs2, 1)
	require.Len(t, reqs2[0].PartitionStates, 1)

	// The flush closed the batch; a new pass can open it again.
	require.NoError(t, b.newBatch())
}

func TestBatchSkipsDeadBrokers(t *testing.T) {
	sender := testutil.NewCapturingSender()
	b := newTestBatch(sender)
	ctx := NewContext()
	ctx.SetLiveBrokers([]int32{1})

	require.NoError(t, b.newBatch())
	lie := LeaderIsrAndControllerEpoch{LeaderAndISR: LeaderAndISR{Leader: 1, ISR: []int32{1, 2}}}
	b.addLeaderAndIsrRequestForBrokers([]int32{1, 2}, PartitionID{Topic: "t", Partition: 0}, lie, []int32{1, 2})
	require.NoError(t, b.sendRequestsToBrokers(0, 1, ctx))

	require.Len(t, sender.LeaderAndIsrRequests(1), 1)
	require.Empty(t, sender.Requests(2))
}

func TestBatchFlushWithoutOpenFails(t *testing.T) {
	b := newTestBatch(testutil.NewCapturingSender())
	require.Error(t, b.sendRequestsToBrokers(0, 1, NewContext()))
}
