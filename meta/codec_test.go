package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeaderIsrRoundTripsAndToleratesExtraFields(t *testing.T) {
	in := &LeaderIsrNode{
		Version:         1,
		Leader:          2,
		LeaderEpoch:     7,
		ISR:             []int32{2, 3},
		ControllerEpoch: 4,
	}
	data, err := EncodeLeaderIsr(in)
	require.NoError(t, err)
	out, err := DecodeLeaderIsr(data)
	require.NoError(t, err)
	require.Equal(t, in, out)

	// A newer writer may add fields; readers must not choke on them.
	extended := []byte(`{"version":1,"leader":5,"leader_epoch":9,"isr":[5],"controller_epoch":8,"added_later":{"a":1}}`)
	out, err = DecodeLeaderIsr(extended)
	require.NoError(t, err)
	require.Equal(t, int32(5), out.Leader)
	require.Equal(t, int32(8), out.ControllerEpoch)
}

func TestTopicAssignmentByPartition(t *testing.T) {
	ta := &TopicAssignment{
		Version: 1,
		Partitions: map[string][]int32{
			"0": {1, 2, 3},
			"1": {2, 3, 1},
		},
	}
	data, err := EncodeTopicAssignment(ta)
	require.NoError(t, err)
	decoded, err := DecodeTopicAssignment(data)
	require.NoError(t, err)

	byPartition, err := decoded.AssignmentByPartition()
	require.NoError(t, err)
	require.Equal(t, map[int32][]int32{0: {1, 2, 3}, 1: {2, 3, 1}}, byPartition)

	bad := &TopicAssignment{Partitions: map[string][]int32{"zero": {1}}}
	_, err = bad.AssignmentByPartition()
	require.Error(t, err)
}

func TestEpochCodec(t *testing.T) {
	epoch, err := DecodeEpoch(EncodeEpoch(42))
	require.NoError(t, err)
	require.Equal(t, int32(42), epoch)

	_, err = DecodeEpoch([]byte("not a number"))
	require.Error(t, err)
}
