package controller

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/log"
)

func selectorContext(epoch int32, live []int32, assignment map[PartitionID][]int32) *Context {
	ctx := NewContext()
	ctx.Epoch = epoch
	ctx.SetLiveBrokers(live)
	for p, replicas := range assignment {
		ctx.PartitionReplicaAssignment[p] = replicas
	}
	return ctx
}

func TestOfflineSelectorPrefersLiveIsrInOrder(t *testing.T) {
	p := PartitionID{Topic: "t", Partition: 0}
	ctx := selectorContext(1, []int32{2, 3}, map[PartitionID][]int32{p: {1, 2, 3}})
	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewOfflinePartitionLeaderSelector(ctx, metrics, log.NewNop())

	next, notify, err := s.SelectLeader(p, LeaderAndISR{
		Leader: 1, LeaderEpoch: 4, ISR: []int32{3, 1, 2}, ZKVersion: 7,
	})
	require.NoError(t, err)
	// ISR order, not assignment order, decides the successor.
	require.Equal(t, int32(3), next.Leader)
	require.Equal(t, []int32{3, 2}, next.ISR)
	require.Equal(t, int32(5), next.LeaderEpoch)
	require.Equal(t, int32(7), next.ZKVersion)
	require.Equal(t, []int32{2, 3}, notify)
	require.Equal(t, float64(0), promtest.ToFloat64(metrics.UncleanElectionRate))
}

func TestOfflineSelectorFallsBackToLiveAssigned(t *testing.T) {
	p := PartitionID{Topic: "t", Partition: 0}
	ctx := selectorContext(1, []int32{3}, map[PartitionID][]int32{p: {1, 2, 3}})
	metrics := NewMetrics(prometheus.NewRegistry())
	s := NewOfflinePartitionLeaderSelector(ctx, metrics, log.NewNop())

	next, notify, err := s.SelectLeader(p, LeaderAndISR{
		Leader: 1, LeaderEpoch: 0, ISR: []int32{1, 2}, ZKVersion: 2,
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), next.Leader)
	// Unclean election shrinks the ISR to the new leader alone.
	require.Equal(t, []int32{3}, next.ISR)
	require.Equal(t, []int32{3}, notify)
	require.Equal(t, float64(1), promtest.ToFloat64(metrics.UncleanElectionRate))
}

func TestOfflineSelectorFailsWithNoLiveReplica(t *testing.T) {
	p := PartitionID{Topic: "t", Partition: 0}
	ctx := selectorContext(1, nil, map[PartitionID][]int32{p: {1, 2}})
	s := NewOfflinePartitionLeaderSelector(ctx, NewMetrics(prometheus.NewRegistry()), log.NewNop())

	_, _, err := s.SelectLeader(p, LeaderAndISR{Leader: 1, ISR: []int32{1, 2}})
	require.True(t, IsNoReplicaOnline(err))
}

func TestPreferredReplicaSelector(t *testing.T) {
	p := PartitionID{Topic: "t", Partition: 0}
	ctx := selectorContext(1, []int32{1, 2, 3}, map[PartitionID][]int32{p: {1, 2, 3}})
	s := NewPreferredReplicaPartitionLeaderSelector(ctx)

	next, notify, err := s.SelectLeader(p, LeaderAndISR{
		Leader: 2, LeaderEpoch: 3, ISR: []int32{1, 2, 3}, ZKVersion: 4,
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), next.Leader)
	require.Equal(t, []int32{1, 2, 3}, next.ISR)
	require.Equal(t, []int32{1, 2, 3}, notify)

	// Already the leader.
	_, _, err = s.SelectLeader(p, LeaderAndISR{Leader: 1, ISR: []int32{1, 2, 3}})
	var sce *StateChangeError
	require.ErrorAs(t, err, &sce)

	// Preferred replica out of sync.
	_, _, err = s.SelectLeader(p, LeaderAndISR{Leader: 2, ISR: []int32{2, 3}})
	require.ErrorAs(t, err, &sce)
}

func TestControlledShutdownSelectorMovesLeadership(t *testing.T) {
	p := PartitionID{Topic: "t", Partition: 0}
	ctx := selectorContext(1, []int32{1, 2, 3}, map[PartitionID][]int32{p: {1, 2, 3}})
	s := NewControlledShutdownPartitionLeaderSelector(ctx, 1)

	next, notify, err := s.SelectLeader(p, LeaderAndISR{
		Leader: 1, LeaderEpoch: 2, ISR: []int32{1, 2, 3}, ZKVersion: 9,
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), next.Leader)
	require.Equal(t, []int32{2, 3}, next.ISR)
	require.Equal(t, []int32{2, 3}, notify)
	require.Equal(t, int32(3), next.LeaderEpoch)
}
