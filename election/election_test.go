package election

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/log"
	"github.com/castellan/castellan/meta"
)

func TestFirstCandidateWins(t *testing.T) {
	store := meta.NewInMemory()
	e1 := NewElector(store, 1, log.NewNop())
	e2 := NewElector(store, 2, log.NewNop())

	var elected1, elected2 int
	require.NoError(t, e1.Start(func() { elected1++ }, nil))
	require.NoError(t, e2.Start(func() { elected2++ }, nil))

	require.True(t, e1.IsLeader())
	require.False(t, e2.IsLeader())
	require.Equal(t, 1, elected1)
	require.Equal(t, 0, elected2)
	require.Equal(t, int32(1), e2.CurrentLeader())

	data, _, err := store.Read(meta.ControllerPath)
	require.NoError(t, err)
	node, err := meta.DecodeController(data)
	require.NoError(t, err)
	require.Equal(t, int32(1), node.BrokerID)
}

func TestFollowerTakesOverWhenLeaderGoes(t *testing.T) {
	store := meta.NewInMemory()
	e1 := NewElector(store, 1, log.NewNop())
	e2 := NewElector(store, 2, log.NewNop())

	var elected2 int
	require.NoError(t, e1.Start(nil, nil))
	require.NoError(t, e2.Start(func() { elected2++ }, nil))
	require.True(t, e1.IsLeader())

	// Leader's session ends: it stops campaigning and its ephemeral node
	// goes away.
	e1.Stop()
	require.NoError(t, store.Delete(meta.ControllerPath))

	require.True(t, e2.IsLeader())
	require.Equal(t, 1, elected2)
}

func TestLeaderResignsWhenNodeLost(t *testing.T) {
	store := meta.NewInMemory()
	e1 := NewElector(store, 1, log.NewNop())

	var resigned int
	require.NoError(t, e1.Start(nil, func() { resigned++ }))
	require.True(t, e1.IsLeader())

	// The controller node disappears, as on session loss.
	require.NoError(t, store.Delete(meta.ControllerPath))
	// e1 resigned once, then re-ran the race and won again.
	require.True(t, e1.IsLeader())
	require.Equal(t, 1, resigned)
}
