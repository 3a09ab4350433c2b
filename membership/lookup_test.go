package membership

import (
	"testing"

	"github.com/hashicorp/serf/serf"
	"github.com/stretchr/testify/require"
)

func TestBrokerLookup(t *testing.T) {
	lookup := newBrokerLookup()
	addr := "10.0.0.1:9092"
	broker := &Broker{ID: 1, Addr: addr}

	lookup.AddBroker(broker)
	got, err := lookup.BrokerAddr(1)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	byAddr := lookup.BrokerByAddr(addr)
	require.NotNil(t, byAddr)
	require.Equal(t, int32(1), byAddr.ID)
	require.Len(t, lookup.Brokers(), 1)
	require.Equal(t, []int32{1}, lookup.BrokerIDs())

	lookup.RemoveBroker(broker)

	got, err = lookup.BrokerAddr(1)
	require.Error(t, err)
	require.Equal(t, "", got)
	require.Nil(t, lookup.BrokerByID(1))
}

func TestBrokerFromMember(t *testing.T) {
	b, ok := brokerFromMember(serf.Member{
		Name: "3",
		Tags: map[string]string{"id": "3", "addr": "10.0.0.3:9092"},
	})
	require.True(t, ok)
	require.Equal(t, int32(3), b.ID)
	require.Equal(t, "10.0.0.3:9092", b.Addr)

	_, ok = brokerFromMember(serf.Member{Name: "stranger"})
	require.False(t, ok)

	_, ok = brokerFromMember(serf.Member{Tags: map[string]string{"id": "not-a-number"}})
	require.False(t, ok)
}
