package controller

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextLiveBrokers(t *testing.T) {
	ctx := NewContext()
	ctx.SetLiveBrokers([]int32{3, 1, 2})
	require.Equal(t, []int32{1, 2, 3}, ctx.LiveBrokerIDs())
	require.True(t, ctx.IsBrokerLive(2))

	ctx.RemoveLiveBroker(2)
	require.False(t, ctx.IsBrokerLive(2))
	ctx.AddLiveBroker(5)
	require.Equal(t, []int32{1, 3, 5}, ctx.LiveBrokerIDs())
}

func TestContextPartitionsLedBy(t *testing.T) {
	ctx := NewContext()
	p0 := PartitionID{Topic: "a", Partition: 0}
	p1 := PartitionID{Topic: "a", Partition: 1}
	p2 := PartitionID{Topic: "b", Partition: 0}
	ctx.AllLeaders[p0] = LeaderIsrAndControllerEpoch{LeaderAndISR: LeaderAndISR{Leader: 1}}
	ctx.AllLeaders[p1] = LeaderIsrAndControllerEpoch{LeaderAndISR: LeaderAndISR{Leader: 2}}
	ctx.AllLeaders[p2] = LeaderIsrAndControllerEpoch{LeaderAndISR: LeaderAndISR{Leader: 1}}

	require.Equal(t, []PartitionID{p0, p2}, ctx.PartitionsLedBy(1))
	require.Empty(t, ctx.PartitionsLedBy(9))
}

func TestContextPartitionsForTopic(t *testing.T) {
	ctx := NewContext()
	ctx.PartitionReplicaAssignment[PartitionID{Topic: "a", Partition: 1}] = []int32{1}
	ctx.PartitionReplicaAssignment[PartitionID{Topic: "a", Partition: 0}] = []int32{1}
	ctx.PartitionReplicaAssignment[PartitionID{Topic: "b", Partition: 0}] = []int32{1}

	require.Equal(t, []PartitionID{
		{Topic: "a", Partition: 0},
		{Topic: "a", Partition: 1},
	}, ctx.PartitionsForTopic("a"))
}
